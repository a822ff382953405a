package capture

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sinkQueueDepth is the per-sink chunk queue. A sink that falls this far
// behind the encoder is evicted rather than allowed to stall the fan-out.
const sinkQueueDepth = 256

// Flusher is implemented by writers that can push buffered bytes to the
// client immediately (http.ResponseWriter does).
type Flusher interface {
	Flush()
}

// Sink is a write-only byte target attached to a capture's fan-out.
// Bytes are delivered in emission order; the sink closes itself on the
// first write error.
type Sink struct {
	ID          uuid.UUID
	ConnectedAt time.Time
	RemoteAddr  string

	w     io.Writer
	flush Flusher

	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
	bytes     atomic.Uint64
}

// NewSink wraps a writer as a fan-out sink.
func NewSink(w io.Writer, remoteAddr string) *Sink {
	s := &Sink{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		RemoteAddr:  remoteAddr,
		w:           w,
		ch:          make(chan []byte, sinkQueueDepth),
		done:        make(chan struct{}),
	}
	if f, ok := w.(Flusher); ok {
		s.flush = f
	}
	go s.writeLoop()
	return s
}

// writeLoop drains the queue into the underlying writer. It owns all writes
// so a slow client never blocks the broadcaster.
func (s *Sink) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.ch:
			if _, err := s.w.Write(chunk); err != nil {
				s.Close()
				return
			}
			s.bytes.Add(uint64(len(chunk)))
			if s.flush != nil {
				s.flush.Flush()
			}
		}
	}
}

// enqueue offers a chunk to the sink. Returns false when the sink is closed
// or its queue is full (the caller evicts it).
func (s *Sink) enqueue(chunk []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- chunk:
		return true
	default:
		return false
	}
}

// Close signals the sink to stop. Idempotent.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the sink has been detached or failed.
func (s *Sink) Done() <-chan struct{} { return s.done }

// BytesWritten returns the bytes delivered to the client so far.
func (s *Sink) BytesWritten() uint64 { return s.bytes.Load() }

// sinkSet is the mutable fan-out membership. Mutated on attach/detach,
// iterated during encoder fan-out.
type sinkSet struct {
	mu    sync.RWMutex
	sinks map[uuid.UUID]*Sink
}

func newSinkSet() *sinkSet {
	return &sinkSet{sinks: make(map[uuid.UUID]*Sink)}
}

func (ss *sinkSet) add(s *Sink) {
	ss.mu.Lock()
	ss.sinks[s.ID] = s
	ss.mu.Unlock()
}

func (ss *sinkSet) remove(id uuid.UUID) {
	ss.mu.Lock()
	s, ok := ss.sinks[id]
	delete(ss.sinks, id)
	ss.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (ss *sinkSet) count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sinks)
}

// broadcast copies the chunk once and offers it to every sink. Sinks that
// cannot keep up are closed and dropped.
func (ss *sinkSet) broadcast(chunk []byte) {
	ss.mu.RLock()
	targets := make([]*Sink, 0, len(ss.sinks))
	for _, s := range ss.sinks {
		targets = append(targets, s)
	}
	ss.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Chunk buffers are reused by the reader; copy once for all sinks.
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	var evict []uuid.UUID
	for _, s := range targets {
		if !s.enqueue(owned) {
			evict = append(evict, s.ID)
		}
	}
	for _, id := range evict {
		ss.remove(id)
	}
}

func (ss *sinkSet) closeAll() {
	ss.mu.Lock()
	sinks := ss.sinks
	ss.sinks = make(map[uuid.UUID]*Sink)
	ss.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
}
