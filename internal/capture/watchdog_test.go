package capture

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrameStatsDark(t *testing.T) {
	tests := []struct {
		name string
		fs   FrameStats
		want bool
	}{
		{"black frame", FrameStats{MeanLuma: 0, DarkFraction: 1}, true},
		{"near black", FrameStats{MeanLuma: 10, DarkFraction: 0.97}, true},
		{"dark but textured", FrameStats{MeanLuma: 10, DarkFraction: 0.5}, false},
		{"dim scene", FrameStats{MeanLuma: 40, DarkFraction: 0.96}, false},
		{"normal frame", FrameStats{MeanLuma: 120, DarkFraction: 0.1}, false},
		{"boundary luma", FrameStats{MeanLuma: 16, DarkFraction: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fs.dark())
		})
	}
}

func TestWatchdogFiresOncePerStreak(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(time.Hour, 3, nil, func() { fired.Add(1) }, discardLogger())

	dark := FrameStats{MeanLuma: 0, DarkFraction: 1}
	healthy := FrameStats{MeanLuma: 120, DarkFraction: 0}

	w.observe(dark)
	w.observe(dark)
	assert.Equal(t, int32(0), fired.Load())
	w.observe(dark)
	assert.Equal(t, int32(1), fired.Load())

	// Still dark: the streak continues but the callback stays fired.
	w.observe(dark)
	w.observe(dark)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 5, w.Streak())

	// A healthy sample re-arms, and a new streak fires again.
	w.observe(healthy)
	assert.Equal(t, 0, w.Streak())
	w.observe(dark)
	w.observe(dark)
	w.observe(dark)
	assert.Equal(t, int32(2), fired.Load())
}

func TestWatchdogSamplingLoop(t *testing.T) {
	var fired atomic.Int32
	sampler := func(context.Context) (FrameStats, error) {
		return FrameStats{MeanLuma: 0, DarkFraction: 1}, nil
	}
	w := NewWatchdog(time.Millisecond, 2, sampler, func() { fired.Add(1) }, discardLogger())

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, time.Millisecond)
	w.Stop()
	assert.Equal(t, int32(1), fired.Load())
}

func TestPipelineWatchdogSurvivesRequestContext(t *testing.T) {
	p := New(Config{
		OutputDir:        t.TempDir(),
		WatchdogInterval: time.Millisecond,
		WatchdogSamples:  3,
	}, discardLogger(), nil)

	var samples atomic.Int32
	sampler := func(context.Context) (FrameStats, error) {
		samples.Add(1)
		return FrameStats{MeanLuma: 120, DarkFraction: 0}, nil
	}
	p.startWatchdog(sampler, func() {})

	// The request that armed the watchdog is long gone; sampling continues
	// for as long as the capture session does.
	require.Eventually(t, func() bool {
		return samples.Load() >= 3
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	frozen := samples.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, frozen, samples.Load())
}

func TestWatchdogIgnoresSamplerErrors(t *testing.T) {
	var calls atomic.Int32
	sampler := func(context.Context) (FrameStats, error) {
		calls.Add(1)
		return FrameStats{}, context.DeadlineExceeded
	}
	w := NewWatchdog(time.Millisecond, 1, sampler, func() {
		t.Error("fired on a failed sample")
	}, discardLogger())

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, time.Second, time.Millisecond)
	w.Stop()
	assert.Equal(t, 0, w.Streak())
}

func TestGrayFrameStats(t *testing.T) {
	fs, err := grayFrameStats([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, fs.MeanLuma)
	assert.Equal(t, 1.0, fs.DarkFraction)
	assert.True(t, fs.dark())

	fs, err = grayFrameStats([]byte{100, 200, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 75.0, fs.MeanLuma)
	assert.Equal(t, 0.5, fs.DarkFraction)
	assert.False(t, fs.dark())

	_, err = grayFrameStats(nil)
	assert.Error(t, err)
}
