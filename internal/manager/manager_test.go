package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtuner/webtuner/internal/capture"
	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/tuner"
)

type fakeTuner struct {
	mu sync.Mutex

	id           int
	state        tuner.State
	current      *catalog.Channel
	clients      int
	lastActivity time.Time

	startErr  error
	ensureErr error

	ensured      []string
	stopCaptures int
	restarts     int
	stops        int
	touches      int
}

func newFakeTuner(id int, state tuner.State) *fakeTuner {
	return &fakeTuner{id: id, state: state, lastActivity: time.Now()}
}

func (f *fakeTuner) ID() int { return f.id }

func (f *fakeTuner) State() tuner.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTuner) Current() *catalog.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTuner) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		f.state = tuner.StateError
		return f.startErr
	}
	f.state = tuner.StateFree
	return nil
}

func (f *fakeTuner) EnsureTuned(_ context.Context, ch *catalog.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, ch.ID)
	f.state = tuner.StateStreaming
	f.current = ch
	return nil
}

func (f *fakeTuner) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCaptures++
	f.state = tuner.StateFree
	return nil
}

func (f *fakeTuner) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = tuner.StateStopped
	return nil
}

func (f *fakeTuner) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	f.state = tuner.StateFree
	f.current = nil
	return nil
}

func (f *fakeTuner) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeTuner) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActivity
}

func (f *fakeTuner) Touch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	f.lastActivity = time.Now()
}

func (f *fakeTuner) Snapshot() tuner.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := tuner.Snapshot{ID: f.id, State: f.state.String(), Clients: f.clients}
	if f.current != nil {
		s.ChannelID = f.current.ID
	}
	return s
}

func (f *fakeTuner) AttachSink(*capture.Sink) {}
func (f *fakeTuner) DetachSink(uuid.UUID)     {}
func (f *fakeTuner) Capture() tuner.Capture   { return nil }

func testManager(tuners ...Tuner) *Manager {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(tuners, time.Minute, time.Second, log)
}

func channel(id string) *catalog.Channel {
	return &catalog.Channel{ID: id, DisplayName: id}
}

func TestAcquirePrefersTunerAlreadyOnChannel(t *testing.T) {
	free := newFakeTuner(0, tuner.StateFree)
	streaming := newFakeTuner(1, tuner.StateStreaming)
	streaming.current = channel("NBC-E")
	streaming.clients = 2
	m := testManager(free, streaming)

	got, err := m.Acquire(context.Background(), channel("NBC-E"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID())
	assert.Empty(t, free.ensured)
}

func TestAcquireJoinsTunerMidTuneOnSameChannel(t *testing.T) {
	tuning := newFakeTuner(0, tuner.StateTuning)
	tuning.current = channel("NBC-E")
	m := testManager(tuning)

	// A second request for the channel while the first tune is still in
	// flight joins that tuner instead of reporting a busy pool.
	got, err := m.Acquire(context.Background(), channel("NBC-E"))
	require.NoError(t, err)
	assert.Equal(t, 0, got.ID())
	assert.Equal(t, []string{"NBC-E"}, tuning.ensured)
}

func TestAcquireFreeLowestID(t *testing.T) {
	a := newFakeTuner(0, tuner.StateFree)
	b := newFakeTuner(1, tuner.StateFree)
	m := testManager(a, b)

	got, err := m.Acquire(context.Background(), channel("CBS-E"))
	require.NoError(t, err)
	assert.Equal(t, 0, got.ID())
	assert.Equal(t, []string{"CBS-E"}, a.ensured)
	assert.Equal(t, tuner.StateStreaming, a.State())
}

func TestAcquireRetunesUnwatchedStreaming(t *testing.T) {
	watched := newFakeTuner(0, tuner.StateStreaming)
	watched.current = channel("NBC-E")
	watched.clients = 1
	idle := newFakeTuner(1, tuner.StateStreaming)
	idle.current = channel("CBS-E")
	m := testManager(watched, idle)

	got, err := m.Acquire(context.Background(), channel("HBO-E"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID())
	assert.Equal(t, []string{"HBO-E"}, idle.ensured)
}

func TestAcquireAllBusy(t *testing.T) {
	a := newFakeTuner(0, tuner.StateStreaming)
	a.current = channel("NBC-E")
	a.clients = 1
	b := newFakeTuner(1, tuner.StateTuning)
	m := testManager(a, b)

	_, err := m.Acquire(context.Background(), channel("HBO-E"))
	assert.ErrorIs(t, err, ErrAllBusy)
}

func TestAcquireSkipsErroredTuners(t *testing.T) {
	bad := newFakeTuner(0, tuner.StateError)
	good := newFakeTuner(1, tuner.StateFree)
	m := testManager(bad, good)

	got, err := m.Acquire(context.Background(), channel("NBC-E"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID())
}

func TestStartFailsWhenNoTunerReady(t *testing.T) {
	a := newFakeTuner(0, tuner.StateStopped)
	a.startErr = errors.New("browser refused")
	b := newFakeTuner(1, tuner.StateStopped)
	b.startErr = errors.New("browser refused")
	m := testManager(a, b)

	err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestStartToleratesPartialPool(t *testing.T) {
	a := newFakeTuner(0, tuner.StateStopped)
	a.startErr = errors.New("browser refused")
	b := newFakeTuner(1, tuner.StateStopped)
	m := testManager(a, b)
	defer m.Shutdown()

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, tuner.StateError, a.State())
	assert.Equal(t, tuner.StateFree, b.State())
}

func TestReapReclaimsIdleStreaming(t *testing.T) {
	idle := newFakeTuner(0, tuner.StateStreaming)
	idle.current = channel("NBC-E")
	idle.lastActivity = time.Now().Add(-2 * time.Minute)
	fresh := newFakeTuner(1, tuner.StateStreaming)
	fresh.current = channel("CBS-E")
	fresh.lastActivity = time.Now()
	watched := newFakeTuner(2, tuner.StateStreaming)
	watched.current = channel("HBO-E")
	watched.clients = 1
	watched.lastActivity = time.Now().Add(-2 * time.Minute)
	m := testManager(idle, fresh, watched)

	m.reap()

	assert.Equal(t, 1, idle.stopCaptures)
	assert.Equal(t, 0, fresh.stopCaptures)
	assert.Equal(t, 0, watched.stopCaptures)
}

func TestReapRestartsErrored(t *testing.T) {
	bad := newFakeTuner(0, tuner.StateError)
	m := testManager(bad)

	m.reap()

	assert.Equal(t, 1, bad.restarts)
	assert.Equal(t, tuner.StateFree, bad.State())
}

func TestKillAllCaptures(t *testing.T) {
	a := newFakeTuner(0, tuner.StateStreaming)
	a.current = channel("NBC-E")
	b := newFakeTuner(1, tuner.StateFree)
	c := newFakeTuner(2, tuner.StateStreaming)
	c.current = channel("CBS-E")
	m := testManager(a, b, c)

	assert.Equal(t, 2, m.KillAllCaptures())
	assert.Equal(t, 1, a.stopCaptures)
	assert.Equal(t, 0, b.stopCaptures)
	assert.Equal(t, 1, c.stopCaptures)
}

func TestLookup(t *testing.T) {
	a := newFakeTuner(0, tuner.StateFree)
	b := newFakeTuner(1, tuner.StateFree)
	m := testManager(a, b)

	got, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 1, got.ID())

	_, ok = m.Lookup(7)
	assert.False(t, ok)
}

func TestStatusOrderedByID(t *testing.T) {
	a := newFakeTuner(0, tuner.StateFree)
	b := newFakeTuner(1, tuner.StateStreaming)
	b.current = channel("NBC-E")
	m := testManager(a, b)

	snaps := m.Status()
	require.Len(t, snaps, 2)
	assert.Equal(t, 0, snaps[0].ID)
	assert.Equal(t, "NBC-E", snaps[1].ChannelID)
}

func TestShutdownStopsEveryTuner(t *testing.T) {
	a := newFakeTuner(0, tuner.StateStreaming)
	b := newFakeTuner(1, tuner.StateFree)
	m := testManager(a, b)

	m.Shutdown()

	assert.Equal(t, 1, a.stops)
	assert.Equal(t, 1, b.stops)
}
