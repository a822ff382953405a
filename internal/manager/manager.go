// Package manager owns the tuner pool: provisioning, allocation, idle
// reclaim and error recovery.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/webtuner/webtuner/internal/browser"
	"github.com/webtuner/webtuner/internal/capture"
	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/config"
	"github.com/webtuner/webtuner/internal/observability"
	"github.com/webtuner/webtuner/internal/tuner"
)

// ErrAllBusy means every tuner is streaming with at least one client.
var ErrAllBusy = errors.New("all tuners busy")

// reaperSchedule is how often idle and errored tuners are swept.
const reaperSchedule = "@every 30s"

// Tuner is the pool's view of one tuner. *tuner.Tuner satisfies it; tests
// substitute fakes.
type Tuner interface {
	ID() int
	State() tuner.State
	Current() *catalog.Channel
	Start(ctx context.Context) error
	EnsureTuned(ctx context.Context, ch *catalog.Channel) error
	StopCapture() error
	Stop() error
	Restart(ctx context.Context) error
	ClientCount() int
	LastActivity() time.Time
	Touch()
	Snapshot() tuner.Snapshot
	AttachSink(s *capture.Sink)
	DetachSink(id uuid.UUID)
	Capture() tuner.Capture
}

// Manager allocates channel requests onto the tuner pool.
type Manager struct {
	log         *slog.Logger
	tuners      []Tuner
	idleTimeout time.Duration
	deadline    time.Duration

	cron *cron.Cron

	mu sync.Mutex // serializes allocation decisions
}

// New creates a manager over an already provisioned pool.
func New(tuners []Tuner, idleTimeout, startupDeadline time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:         observability.WithComponent(log, "manager"),
		tuners:      tuners,
		idleTimeout: idleTimeout,
		deadline:    startupDeadline,
	}
}

// Provision builds the production pool from configuration. Each tuner gets
// an exclusive display, control port, output directory and browser profile.
func Provision(cfg *config.Config, log *slog.Logger) *Manager {
	tuners := make([]Tuner, 0, cfg.Tuners.Count)
	for i := 0; i < cfg.Tuners.Count; i++ {
		drv := browser.NewClient(cfg.Tuners.ControlEndpoint(i))
		t := tuner.New(tuner.Config{
			ID:              i,
			DisplayID:       cfg.Tuners.DisplayID(i),
			ControlEndpoint: cfg.Tuners.ControlEndpoint(i),
			OutputDir:       cfg.Capture.TunerOutputDir(i),
			ProfileDir:      cfg.Browser.TunerProfileDir(i),
			GuideURL:        cfg.Browser.GuideURL,
		}, drv, log)

		pipe := capture.New(capture.Config{
			FFmpegPath:       cfg.Capture.FFmpegPath,
			Width:            cfg.Capture.Width,
			Height:           cfg.Capture.Height,
			Framerate:        cfg.Capture.Framerate,
			VideoBitrate:     cfg.Capture.VideoBitrate,
			AudioBitrate:     cfg.Capture.AudioBitrate,
			AudioDevice:      cfg.Capture.AudioDevice,
			SegmentTime:      cfg.Capture.SegmentTime,
			ListSize:         cfg.Capture.ListSize,
			OutputDir:        cfg.Capture.TunerOutputDir(i),
			WatchdogInterval: cfg.Capture.WatchdogInterval,
			WatchdogSamples:  cfg.Capture.WatchdogSamples,
		}, observability.WithTuner(log, i), t.HandleCaptureExit)
		t.SetCapture(pipe)

		tuners = append(tuners, t)
	}
	return New(tuners, cfg.Tuners.IdleTimeout, cfg.Tuners.StartupDeadline, log)
}

// Start brings every tuner up concurrently and starts the reaper. It fails
// only when no tuner reaches free before the startup deadline; a partially
// degraded pool is allowed to serve.
func (m *Manager) Start(ctx context.Context) error {
	deadline := m.deadline
	if deadline <= 0 {
		deadline = 90 * time.Second
	}
	startCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range m.tuners {
		wg.Add(1)
		go func(t Tuner) {
			defer wg.Done()
			if err := t.Start(startCtx); err != nil {
				m.log.Error("tuner failed to start",
					slog.Int("tuner", t.ID()),
					slog.String("error", err.Error()),
				)
			}
		}(t)
	}
	wg.Wait()

	free := 0
	for _, t := range m.tuners {
		if t.State() == tuner.StateFree {
			free++
		}
	}
	if free == 0 {
		return fmt.Errorf("no tuner became ready within %s", deadline)
	}
	m.log.Info("tuner pool ready",
		slog.Int("free", free),
		slog.Int("total", len(m.tuners)),
	)

	m.startReaper()
	return nil
}

func (m *Manager) startReaper() {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(reaperSchedule, m.reap); err != nil {
		m.log.Error("scheduling reaper", slog.String("error", err.Error()))
		return
	}
	m.cron.Start()
}

// Acquire picks a tuner for the channel and ensures it is streaming it.
// Preference order: a tuner already streaming the channel, then a free
// tuner, then a streaming tuner nobody is watching. Lowest id wins within
// each class.
func (m *Manager) Acquire(ctx context.Context, ch *catalog.Channel) (Tuner, error) {
	t, err := m.pick(ch)
	if err != nil {
		return nil, err
	}
	if err := t.EnsureTuned(ctx, ch); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) pick(ch *catalog.Channel) (Tuner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A tuner mid-tune on the channel counts as already handling it: the
	// second request joins it and EnsureTuned waits out the in-flight tune
	// rather than reporting a busy pool.
	for _, t := range m.tuners {
		switch t.State() {
		case tuner.StateStreaming, tuner.StateTuning:
		default:
			continue
		}
		if cur := t.Current(); cur != nil && cur.ID == ch.ID {
			return t, nil
		}
	}
	for _, t := range m.tuners {
		if t.State() == tuner.StateFree {
			return t, nil
		}
	}
	for _, t := range m.tuners {
		if t.State() == tuner.StateStreaming && t.ClientCount() == 0 {
			return t, nil
		}
	}
	return nil, ErrAllBusy
}

// Lookup returns the tuner with the given id.
func (m *Manager) Lookup(id int) (Tuner, bool) {
	for _, t := range m.tuners {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// reap stops captures nobody has watched past the idle timeout and
// restarts errored tuners. The browser stays parked so a returning client
// resumes without a full retune.
func (m *Manager) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, t := range m.tuners {
		switch t.State() {
		case tuner.StateStreaming:
			if t.ClientCount() > 0 {
				continue
			}
			if time.Since(t.LastActivity()) < m.idleTimeout {
				continue
			}
			m.log.Info("reclaiming idle tuner", slog.Int("tuner", t.ID()))
			if err := t.StopCapture(); err != nil {
				m.log.Warn("idle reclaim failed",
					slog.Int("tuner", t.ID()),
					slog.String("error", err.Error()),
				)
			}
		case tuner.StateError:
			m.log.Info("restarting errored tuner", slog.Int("tuner", t.ID()))
			if err := t.Restart(ctx); err != nil {
				m.log.Error("tuner restart failed",
					slog.Int("tuner", t.ID()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// KillAllCaptures force-stops every running capture. Browsers stay up; the
// next request retunes. Returns how many captures were stopped.
func (m *Manager) KillAllCaptures() int {
	killed := 0
	for _, t := range m.tuners {
		if t.State() != tuner.StateStreaming {
			continue
		}
		if err := t.StopCapture(); err != nil {
			m.log.Warn("killing capture",
				slog.Int("tuner", t.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		killed++
	}
	m.log.Info("killed captures", slog.Int("count", killed))
	return killed
}

// Status returns a snapshot of every tuner, ordered by id.
func (m *Manager) Status() []tuner.Snapshot {
	out := make([]tuner.Snapshot, 0, len(m.tuners))
	for _, t := range m.tuners {
		out = append(out, t.Snapshot())
	}
	return out
}

// Shutdown stops the reaper and tears every tuner down.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		m.cron.Stop()
	}
	var wg sync.WaitGroup
	for _, t := range m.tuners {
		wg.Add(1)
		go func(t Tuner) {
			defer wg.Done()
			if err := t.Stop(); err != nil {
				m.log.Warn("stopping tuner",
					slog.Int("tuner", t.ID()),
					slog.String("error", err.Error()),
				)
			}
		}(t)
	}
	wg.Wait()
}
