package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Watchdog defaults.
const (
	// DefaultWatchdogInterval is the sampling interval (I).
	DefaultWatchdogInterval = 5 * time.Second
	// DefaultWatchdogSamples is the consecutive-sample trigger count (K).
	DefaultWatchdogSamples = 3
	// lumaThreshold is the mean-luminance floor for a frame to count dark.
	lumaThreshold = 16.0
	// darkPixelFraction is the minimum fraction of below-threshold pixels.
	darkPixelFraction = 0.95
)

// FrameStats is one luminance sample of the display.
type FrameStats struct {
	// MeanLuma is the mean gray value, 0-255.
	MeanLuma float64
	// DarkFraction is the fraction of pixels below lumaThreshold.
	DarkFraction float64
}

// dark reports whether the sample reads as a black frame.
func (f FrameStats) dark() bool {
	return f.MeanLuma < lumaThreshold && f.DarkFraction >= darkPixelFraction
}

// Sampler produces one FrameStats observation of the display.
type Sampler func(ctx context.Context) (FrameStats, error)

// Watchdog samples the display and invokes the black-screen callback after
// K consecutive dark samples. It fires once per dark streak; a healthy
// sample re-arms it.
type Watchdog struct {
	interval time.Duration
	samples  int
	sampler  Sampler
	onBlack  func()
	log      *slog.Logger

	mu     sync.Mutex
	streak int
	fired  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog creates a watchdog. onBlack runs on the watchdog goroutine.
func NewWatchdog(interval time.Duration, samples int, sampler Sampler, onBlack func(), log *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if samples <= 0 {
		samples = DefaultWatchdogSamples
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{
		interval: interval,
		samples:  samples,
		sampler:  sampler,
		onBlack:  onBlack,
		log:      log,
	}
}

// Start begins sampling until Stop is called or ctx ends.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fs, err := w.sampler(ctx)
				if err != nil {
					// A failed grab says nothing about frame content.
					w.log.Debug("watchdog sample failed", slog.String("error", err.Error()))
					continue
				}
				w.observe(fs)
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// observe folds one sample into the streak state.
func (w *Watchdog) observe(fs FrameStats) {
	w.mu.Lock()
	if !fs.dark() {
		w.streak = 0
		w.fired = false
		w.mu.Unlock()
		return
	}
	w.streak++
	shouldFire := w.streak >= w.samples && !w.fired
	if shouldFire {
		w.fired = true
	}
	streak := w.streak
	w.mu.Unlock()

	if shouldFire {
		w.log.Warn("black screen detected", slog.Int("streak", streak))
		if w.onBlack != nil {
			w.onBlack()
		}
	}
}

// Streak returns the current consecutive dark-sample count.
func (w *Watchdog) Streak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streak
}

// GrabSampler returns a Sampler that pulls one gray frame from the display
// with the encoder binary and computes its luminance statistics.
func GrabSampler(ffmpegPath string, display, width, height int) Sampler {
	return func(ctx context.Context) (FrameStats, error) {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "x11grab",
			"-video_size", fmt.Sprintf("%dx%d", width, height),
			"-i", fmt.Sprintf(":%d", display),
			"-frames:v", "1",
			"-f", "rawvideo",
			"-pix_fmt", "gray",
			"pipe:1",
		}
		cmd := exec.CommandContext(ctx, ffmpegPath, args...)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return FrameStats{}, fmt.Errorf("grabbing sample frame: %w", err)
		}
		return grayFrameStats(out.Bytes())
	}
}

// grayFrameStats computes luminance statistics over a raw gray frame.
func grayFrameStats(frame []byte) (FrameStats, error) {
	if len(frame) == 0 {
		return FrameStats{}, fmt.Errorf("empty sample frame")
	}
	var sum uint64
	var dark int
	for _, px := range frame {
		sum += uint64(px)
		if float64(px) < lumaThreshold {
			dark++
		}
	}
	return FrameStats{
		MeanLuma:     float64(sum) / float64(len(frame)),
		DarkFraction: float64(dark) / float64(len(frame)),
	}, nil
}
