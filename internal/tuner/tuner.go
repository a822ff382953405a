// Package tuner implements the tuner state machine. A tuner owns one
// browser session on a dedicated virtual display and one capture pipeline,
// and moves between free, tuning and streaming as channels are requested.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/webtuner/webtuner/internal/browser"
	"github.com/webtuner/webtuner/internal/capture"
	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/observability"
)

// Capture is the pipeline surface the tuner drives. The production
// implementation is *capture.Pipeline; tests substitute fakes.
type Capture interface {
	Start(ctx context.Context, displayID int, onBlackScreen func()) error
	StartPlaceholder(ctx context.Context, message string) error
	Stop() error
	Running() bool
	Placeholder() bool
	AddClient(s *capture.Sink)
	RemoveClient(id uuid.UUID)
	ClientCount() int
	Stats() capture.Stats
	PlaylistPath() string
	SegmentPath(name string) (string, error)
	Playlist() ([]byte, error)
}

// Config identifies one tuner's exclusive resources.
type Config struct {
	ID              int
	DisplayID       int
	ControlEndpoint string
	OutputDir       string
	ProfileDir      string
	GuideURL        string
}

// ReconnectConfig bounds the control-plane reconnect loop.
type ReconnectConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultReconnect is the production reconnect policy: backoffs of
// 1, 2, 4, 8, 16s before the five attempts.
var DefaultReconnect = ReconnectConfig{
	Attempts:  5,
	BaseDelay: time.Second,
	MaxDelay:  30 * time.Second,
}

// delay returns the backoff preceding attempt n (zero-based): base·2^n,
// capped at MaxDelay.
func (rc ReconnectConfig) delay(attempt int) time.Duration {
	d := rc.BaseDelay << attempt
	if attempt > 20 || d <= 0 || d > rc.MaxDelay {
		return rc.MaxDelay
	}
	return d
}

// timings collect every deadline the tuning sequence uses. Tests shrink
// them to keep the suite fast.
type timings struct {
	navigate      time.Duration
	scrollRetries int
	scrollSettle  time.Duration
	evaluate      time.Duration
	playDeadline  time.Duration
	playPoll      time.Duration
	videoDeadline time.Duration
	videoPoll     time.Duration
}

func defaultTimings() timings {
	return timings{
		navigate:      30 * time.Second,
		scrollRetries: 15,
		scrollSettle:  500 * time.Millisecond,
		evaluate:      10 * time.Second,
		playDeadline:  8 * time.Second,
		playPoll:      300 * time.Millisecond,
		videoDeadline: 15 * time.Second,
		videoPoll:     500 * time.Millisecond,
	}
}

// Snapshot is a point-in-time view of a tuner for the status surface.
type Snapshot struct {
	ID           int           `json:"id"`
	State        string        `json:"state"`
	ChannelID    string        `json:"channel_id,omitempty"`
	ChannelName  string        `json:"channel_name,omitempty"`
	Placeholder  bool          `json:"placeholder,omitempty"`
	Clients      int           `json:"clients"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	Capture      capture.Stats `json:"capture"`
}

// Tuner drives one browser instance and one capture pipeline.
//
// opMu serializes the heavyweight operations (Start, Tune, Stop, black
// screen recovery, reconnect): a later caller blocks until the earlier
// operation completes, then observes its outcome.
type Tuner struct {
	cfg       Config
	drv       browser.Driver
	log       *slog.Logger
	reconnect ReconnectConfig
	tm        timings

	opMu sync.Mutex

	stateMu sync.Mutex
	state   State
	current *catalog.Channel

	cap Capture

	lastActivity atomic.Int64 // unix nanos
	blackPending atomic.Bool
	reconnGate   atomic.Bool
}

// New creates a tuner in the stopped state. Attach a capture pipeline with
// SetCapture before calling Start.
func New(cfg Config, drv browser.Driver, log *slog.Logger) *Tuner {
	if log == nil {
		log = slog.Default()
	}
	t := &Tuner{
		cfg:       cfg,
		drv:       drv,
		log:       observability.WithTuner(log, cfg.ID),
		reconnect: DefaultReconnect,
		tm:        defaultTimings(),
		state:     StateStopped,
	}
	t.touch()
	return t
}

// SetCapture attaches the capture pipeline. Must be called before Start.
func (t *Tuner) SetCapture(c Capture) { t.cap = c }

// SetReconnect overrides the reconnect policy.
func (t *Tuner) SetReconnect(rc ReconnectConfig) { t.reconnect = rc }

// ID returns the tuner's id.
func (t *Tuner) ID() int { return t.cfg.ID }

// State returns the current state.
func (t *Tuner) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// Current returns the channel currently tuned, or nil.
func (t *Tuner) Current() *catalog.Channel {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.current
}

func (t *Tuner) setState(s State, ch *catalog.Channel) {
	t.stateMu.Lock()
	prev := t.state
	t.state = s
	t.current = ch
	t.stateMu.Unlock()
	if prev != s {
		t.log.Info("tuner state",
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
		)
	}
}

func (t *Tuner) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// Touch records client activity. HLS viewers hold no sink, so playlist and
// segment reads count here; otherwise the idle reaper would reclaim a
// capture that is still being read.
func (t *Tuner) Touch() { t.touch() }

// LastActivity returns the last time a client attached, detached or a tune
// was requested.
func (t *Tuner) LastActivity() time.Time {
	return time.Unix(0, t.lastActivity.Load())
}

// Start connects the control plane and navigates to the guide, leaving the
// tuner free. Only legal from the stopped state.
func (t *Tuner) Start(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if s := t.State(); s != StateStopped {
		return fmt.Errorf("%w: start from %s", ErrBadState, s)
	}
	t.setState(StateStarting, nil)

	if err := t.drv.Connect(ctx); err != nil {
		t.setState(StateError, nil)
		return fmt.Errorf("connecting control plane: %w", err)
	}
	if err := t.drv.Navigate(ctx, t.cfg.GuideURL, browser.WaitNetworkIdle, t.tm.navigate); err != nil {
		t.setState(StateError, nil)
		return fmt.Errorf("loading guide: %w", err)
	}

	t.setState(StateFree, nil)
	return nil
}

// Tune locates the channel on the guide, starts playback and starts the
// capture pipeline. Legal from free and streaming; a streaming tuner is
// retuned in place.
func (t *Tuner) Tune(ctx context.Context, ch *catalog.Channel) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return t.tuneLocked(ctx, ch)
}

// EnsureTuned tunes the channel unless the tuner is already streaming it
// with a live capture.
func (t *Tuner) EnsureTuned(ctx context.Context, ch *catalog.Channel) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.stateMu.Lock()
	sameChannel := t.current != nil && t.current.ID == ch.ID &&
		(t.state == StateStreaming || t.state == StateFree)
	t.stateMu.Unlock()

	if sameChannel && t.cap.Running() {
		t.touch()
		return nil
	}
	if sameChannel {
		// Browser still parked on the channel; only the capture was
		// reclaimed.
		return t.startCaptureLocked(ctx, ch, false)
	}
	return t.tuneLocked(ctx, ch)
}

func (t *Tuner) tuneLocked(ctx context.Context, ch *catalog.Channel) error {
	switch s := t.State(); s {
	case StateFree, StateStreaming:
	default:
		return fmt.Errorf("%w: tune from %s", ErrBadState, s)
	}
	t.touch()

	if t.cap.Running() {
		if err := t.cap.Stop(); err != nil {
			t.log.Warn("stopping previous capture", slog.String("error", err.Error()))
		}
	}
	t.setState(StateTuning, ch)
	t.log.Info("tuning",
		slog.String("channel_id", ch.ID),
		slog.String("channel_name", ch.DisplayName),
	)

	noAirings, err := t.driveGuide(ctx, ch)
	if err != nil {
		return t.tuneFailed(err)
	}
	if noAirings {
		return t.startCaptureLocked(ctx, ch, true)
	}

	if err := t.startPlayback(ctx); err != nil {
		return t.tuneFailed(err)
	}
	return t.startCaptureLocked(ctx, ch, false)
}

// tuneFailed maps a tuning error onto the right state. A dropped control
// plane goes to error and kicks the reconnect loop. An unknown channel
// leaves the tuner free: the guide is healthy, the request just named a
// channel it does not carry. Any other failure means the page is wedged in
// an unknown state, so the tuner goes to error and waits for the reaper to
// restart it.
func (t *Tuner) tuneFailed(err error) error {
	if errors.Is(err, browser.ErrDisconnected) {
		t.setState(StateError, nil)
		t.spawnReconnect()
		return fmt.Errorf("%w: %v", ErrControlDisconnected, err)
	}
	if errors.Is(err, ErrChannelNotFound) {
		t.setState(StateFree, nil)
		return err
	}
	t.setState(StateError, nil)
	return err
}

// driveGuide navigates to the guide, finds the channel entry (scrolling as
// needed), opens it and reports whether the channel has no upcoming
// airings.
func (t *Tuner) driveGuide(ctx context.Context, ch *catalog.Channel) (noAirings bool, err error) {
	if err := t.drv.Navigate(ctx, t.cfg.GuideURL, browser.WaitNetworkIdle, t.tm.navigate); err != nil {
		return false, fmt.Errorf("loading guide: %w", err)
	}

	index, found := -1, false
	for attempt := 0; attempt <= t.tm.scrollRetries; attempt++ {
		var entries []GuideEntry
		if err := t.drv.Evaluate(ctx, guideEntriesScript, &entries); err != nil {
			return false, fmt.Errorf("reading guide entries: %w", err)
		}
		if index, found = selectGuideEntry(entries, ch); found {
			break
		}
		if attempt == t.tm.scrollRetries {
			break
		}
		if err := t.drv.Evaluate(ctx, scrollGuideScript, nil); err != nil {
			return false, fmt.Errorf("scrolling guide: %w", err)
		}
		if err := sleepCtx(ctx, t.tm.scrollSettle); err != nil {
			return false, err
		}
	}
	if !found {
		return false, fmt.Errorf("%w: %s", ErrChannelNotFound, ch.ID)
	}

	var clicked bool
	if err := t.drv.Evaluate(ctx, clickGuideEntryScript(index), &clicked); err != nil {
		return false, fmt.Errorf("opening guide entry: %w", err)
	}
	if !clicked {
		return false, fmt.Errorf("%w: guide entry %d vanished", ErrTuneFailed, index)
	}
	if err := sleepCtx(ctx, t.tm.scrollSettle); err != nil {
		return false, err
	}

	if err := t.drv.Evaluate(ctx, noAiringsScript, &noAirings); err != nil {
		return false, fmt.Errorf("checking airings: %w", err)
	}
	if noAirings {
		t.log.Warn("channel has no upcoming airings", slog.String("channel_id", ch.ID))
		_ = t.drv.Evaluate(ctx, closeNoticeScript, nil)
	}
	return noAirings, nil
}

// startPlayback clicks through to live playback and waits for the video
// element to produce frames.
func (t *Tuner) startPlayback(ctx context.Context) error {
	if err := t.clickPlayControl(ctx); err != nil {
		return err
	}
	if err := t.waitVideoReady(ctx); err != nil {
		return err
	}
	if err := t.drv.Evaluate(ctx, fillViewportScript, nil); err != nil {
		return fmt.Errorf("arranging video: %w", err)
	}
	return nil
}

// clickPlayControl runs the play-control strategies in order, repeatedly,
// until one clicks or the deadline passes.
func (t *Tuner) clickPlayControl(ctx context.Context) error {
	deadline := time.Now().Add(t.tm.playDeadline)
	for {
		for _, script := range playControlScripts {
			var clicked bool
			if err := t.drv.Evaluate(ctx, script, &clicked); err != nil {
				return fmt.Errorf("locating play control: %w", err)
			}
			if clicked {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no play control found", ErrTuneFailed)
		}
		if err := sleepCtx(ctx, t.tm.playPoll); err != nil {
			return err
		}
	}
}

// waitVideoReady polls the video element until it is decoding frames. A
// fully buffered but paused element gets one programmatic unmute-and-play
// nudge and is then accepted either way: some players hold the element
// paused while compositing frames themselves.
func (t *Tuner) waitVideoReady(ctx context.Context) error {
	deadline := time.Now().Add(t.tm.videoDeadline)
	nudged := false
	for {
		var vs videoState
		if err := t.drv.Evaluate(ctx, videoStateScript, &vs); err != nil {
			return fmt.Errorf("reading video state: %w", err)
		}
		switch {
		case vs.Found && vs.ReadyState >= 3 && vs.CurrentTime > 0:
			return nil
		case vs.Found && vs.ReadyState == 4 && vs.Paused:
			if !nudged {
				nudged = true
				if err := t.drv.Evaluate(ctx, unmutePlayScript, nil); err != nil {
					return fmt.Errorf("unmuting video: %w", err)
				}
			} else {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: video never became ready", ErrTuneFailed)
		}
		if err := sleepCtx(ctx, t.tm.videoPoll); err != nil {
			return err
		}
	}
}

// startCaptureLocked starts the capture pipeline (or a placeholder run)
// and moves the tuner to streaming. Callers hold opMu.
func (t *Tuner) startCaptureLocked(ctx context.Context, ch *catalog.Channel, placeholder bool) error {
	var err error
	if placeholder {
		msg := fmt.Sprintf("%s\nNo upcoming airings", ch.DisplayName)
		err = t.cap.StartPlaceholder(ctx, msg)
	} else {
		err = t.cap.Start(ctx, t.cfg.DisplayID, t.onBlackScreen)
	}
	if err != nil {
		t.setState(StateError, nil)
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	t.setState(StateStreaming, ch)
	t.touch()
	return nil
}

// onBlackScreen is the watchdog callback. It must not block: the watchdog
// goroutine is joined by capture Stop, which recovery itself calls under
// opMu, so recovery runs on its own goroutine and concurrent firings
// coalesce into one.
func (t *Tuner) onBlackScreen() {
	if !t.blackPending.CompareAndSwap(false, true) {
		return
	}
	go t.HandleBlackScreen()
}

// HandleBlackScreen recovers a stream whose display went dark by retuning
// the current channel.
func (t *Tuner) HandleBlackScreen() {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	defer t.blackPending.Store(false)

	t.stateMu.Lock()
	ch := t.current
	streaming := t.state == StateStreaming
	t.stateMu.Unlock()
	if !streaming || ch == nil {
		return
	}

	t.log.Warn("black screen detected, retuning", slog.String("channel_id", ch.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 2*t.tm.navigate)
	defer cancel()
	if err := t.tuneLocked(ctx, ch); err != nil {
		t.log.Error("black screen recovery failed", slog.String("error", err.Error()))
	}
}

// HandleCaptureExit is wired as the pipeline's unexpected-death callback.
func (t *Tuner) HandleCaptureExit(err error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.State() != StateStreaming {
		return
	}
	t.log.Error("capture died while streaming", slog.String("error", err.Error()))
	t.setState(StateError, nil)
}

// StopCapture reclaims an idle tuner: the encoder stops, the browser stays
// parked on the channel, and the tuner returns to free. The channel is kept
// so EnsureTuned can resume without re-driving the guide.
func (t *Tuner) StopCapture() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if s := t.State(); s != StateStreaming {
		return fmt.Errorf("%w: stop capture from %s", ErrBadState, s)
	}
	if err := t.cap.Stop(); err != nil {
		return err
	}
	t.stateMu.Lock()
	parked := t.current
	t.stateMu.Unlock()
	t.setState(StateFree, parked)
	return nil
}

// Stop tears the tuner down from any state: capture stopped, control plane
// closed.
func (t *Tuner) Stop() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.cap.Stop(); err != nil {
		t.log.Warn("stopping capture", slog.String("error", err.Error()))
	}
	if err := t.drv.Close(); err != nil {
		t.log.Warn("closing control plane", slog.String("error", err.Error()))
	}
	t.setState(StateStopped, nil)
	return nil
}

// Restart recovers an errored tuner by tearing it down and starting fresh.
func (t *Tuner) Restart(ctx context.Context) error {
	if err := t.Stop(); err != nil {
		return err
	}
	return t.Start(ctx)
}

// spawnReconnect kicks the reconnect loop once; concurrent triggers
// coalesce.
func (t *Tuner) spawnReconnect() {
	if !t.reconnGate.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer t.reconnGate.Store(false)
		t.Reconnect(context.Background())
	}()
}

// Reconnect re-establishes the control plane with exponential backoff. On
// success the tuner returns to free; on exhaustion it stays errored. The
// whole loop runs under opMu so no other operation can touch the session
// while it is being rebuilt; the backoff sleeps are where later callers
// queue up.
func (t *Tuner) Reconnect(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < t.reconnect.Attempts; attempt++ {
		if err := sleepCtx(ctx, t.reconnect.delay(attempt)); err != nil {
			return err
		}
		t.log.Info("reconnecting control plane", slog.Int("attempt", attempt+1))

		_ = t.drv.Close()
		if lastErr = t.drv.Connect(ctx); lastErr != nil {
			continue
		}
		if lastErr = t.drv.Navigate(ctx, t.cfg.GuideURL, browser.WaitNetworkIdle, t.tm.navigate); lastErr != nil {
			continue
		}

		if t.State() == StateError {
			t.setState(StateFree, nil)
		}
		t.log.Info("control plane reconnected")
		return nil
	}

	t.setState(StateError, nil)
	if lastErr == nil {
		lastErr = browser.ErrDisconnected
	}
	return fmt.Errorf("%w: %v", ErrControlDisconnected, lastErr)
}

// CheckHealth probes the control plane; a failed probe kicks the reconnect
// loop.
func (t *Tuner) CheckHealth(ctx context.Context) error {
	if err := t.drv.HealthProbe(ctx); err != nil {
		t.log.Warn("health probe failed", slog.String("error", err.Error()))
		t.setState(StateError, nil)
		t.spawnReconnect()
		return err
	}
	return nil
}

// AttachSink adds a client byte sink to the live fan-out.
func (t *Tuner) AttachSink(s *capture.Sink) {
	t.cap.AddClient(s)
	t.touch()
}

// DetachSink removes a client sink.
func (t *Tuner) DetachSink(id uuid.UUID) {
	t.cap.RemoveClient(id)
	t.touch()
}

// ClientCount returns the number of attached sinks.
func (t *Tuner) ClientCount() int { return t.cap.ClientCount() }

// Capture exposes the pipeline for the HTTP segment handlers.
func (t *Tuner) Capture() Capture { return t.cap }

// Snapshot returns a point-in-time status view.
func (t *Tuner) Snapshot() Snapshot {
	t.stateMu.Lock()
	state := t.state
	ch := t.current
	t.stateMu.Unlock()

	s := Snapshot{
		ID:           t.cfg.ID,
		State:        state.String(),
		Clients:      t.cap.ClientCount(),
		LastActivity: t.LastActivity(),
		Capture:      t.cap.Stats(),
	}
	if ch != nil {
		s.ChannelID = ch.ID
		s.ChannelName = ch.DisplayName
	}
	s.Placeholder = s.Capture.Placeholder
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
