package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webtuner/webtuner/internal/config"
)

func newTestLogger(level, format string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: format}, &buf)
	return logger, &buf
}

func TestLoggerLevelFilters(t *testing.T) {
	logger, buf := newTestLogger("warn", "json")

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLoggerTextFormat(t *testing.T) {
	logger, buf := newTestLogger("info", "text")
	logger.Info("hello", slog.String("k", "v"))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

type sessionInfo struct {
	Account string
	Token   string `masq:"secret"`
}

func TestLoggerRedactsCredentialFields(t *testing.T) {
	logger, buf := newTestLogger("info", "json")

	logger.Info("signed in",
		slog.String("Cookie", "session=s3cr3tvalue"),
		slog.Any("session", sessionInfo{Account: "viewer", Token: "tok-12345"}),
	)

	out := buf.String()
	assert.Contains(t, out, "viewer")
	assert.NotContains(t, out, "s3cr3tvalue")
	assert.NotContains(t, out, "tok-12345")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestWithHelpers(t *testing.T) {
	logger, buf := newTestLogger("info", "json")

	WithTuner(WithComponent(logger, "tuner"), 3).Info("started")
	out := buf.String()
	assert.Contains(t, out, `"component":"tuner"`)
	assert.Contains(t, out, `"tuner":3`)

	buf.Reset()
	WithError(logger, errors.New("capture died")).Warn("degraded")
	assert.Contains(t, buf.String(), "capture died")

	// nil error adds nothing
	assert.Same(t, logger, WithError(logger, nil))
}
