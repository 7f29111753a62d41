// Package eventstream carries trace events from the supervisor's loop to the
// output handlers on a separate goroutine, through a bounded queue.
package eventstream

import (
	"context"
	"sync"

	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/log"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 4096

// Handler consumes events.
type Handler interface {
	HandleEvent(ev event.TraceEvent) error
}

// Stream is a single producer, single consumer queue of events. Emit blocks
// while the queue is full, so a slow handler slows the tracer down instead
// of losing events.
type Stream struct {
	queue   chan event.TraceEvent
	handler Handler
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	handled uint64
	failed  uint64
}

// New creates a new Stream dispatching to handler.
func New(capacity int, handler Handler) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		queue:   make(chan event.TraceEvent, capacity),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Emit enqueues an event. After the consumer has stopped, events are
// dropped.
func (s *Stream) Emit(ev event.TraceEvent) {
	select {
	case s.queue <- ev:
	case <-s.done:
	}
}

// Close marks the end of the event sequence. The consumer drains what is
// queued and then returns. Emit must not be called after Close.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.queue)
	})
}

// Run consumes events until Close has been called and the queue is empty,
// or ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.queue:
			if !ok {
				return nil
			}
			s.dispatch(ev)
		}
	}
}

// Drain consumes whatever is queued without waiting for more. After Run
// returned on cancellation it hands the events that were still buffered to
// the handler.
func (s *Stream) Drain() {
	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			s.dispatch(ev)
		default:
			return
		}
	}
}

func (s *Stream) dispatch(ev event.TraceEvent) {
	err := s.handler.HandleEvent(ev)
	s.mu.Lock()
	s.handled++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()
	if err != nil {
		log.Warn("handling event", "seq", ev.Seq, "pid", ev.PID, "error", err)
	}
}

// Stats returns how many events were handled and how many of those failed.
func (s *Stream) Stats() (handled, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled, s.failed
}
