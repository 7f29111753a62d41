package eventstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/exec-tracer/internal/event"
)

type collector struct {
	mu   sync.Mutex
	seqs []uint64
	fail bool
	gate chan struct{}
}

func (c *collector) HandleEvent(ev event.TraceEvent) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, ev.Seq)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *collector) got() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func TestStream_PreservesOrder(t *testing.T) {
	c := &collector{}
	s := New(4, c)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	for i := uint64(1); i <= 100; i++ {
		s.Emit(event.TraceEvent{Seq: i})
	}
	s.Close()
	require.NoError(t, <-errCh)

	got := c.got()
	require.Len(t, got, 100)
	for i, seq := range got {
		assert.Equal(t, uint64(i+1), seq)
	}
	handled, failed := s.Stats()
	assert.Equal(t, uint64(100), handled)
	assert.Zero(t, failed)
}

func TestStream_BlocksWhenFull(t *testing.T) {
	c := &collector{gate: make(chan struct{})}
	s := New(1, c)
	go func() { _ = s.Run(context.Background()) }()

	s.Emit(event.TraceEvent{Seq: 1}) // taken by the consumer, blocked in the handler
	s.Emit(event.TraceEvent{Seq: 2}) // fills the queue

	emitted := make(chan struct{})
	go func() {
		s.Emit(event.TraceEvent{Seq: 3})
		close(emitted)
	}()

	select {
	case <-emitted:
		t.Fatal("Emit should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(c.gate)
	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit did not unblock")
	}
	s.Close()
}

func TestStream_HandlerErrorsCounted(t *testing.T) {
	c := &collector{fail: true}
	s := New(8, c)
	go func() {
		s.Emit(event.TraceEvent{Seq: 1})
		s.Emit(event.TraceEvent{Seq: 2})
		s.Close()
	}()

	require.NoError(t, s.Run(context.Background()))
	handled, failed := s.Stats()
	assert.Equal(t, uint64(2), handled)
	assert.Equal(t, uint64(2), failed)
}

func TestStream_EmitAfterConsumerStoppedDoesNotBlock(t *testing.T) {
	s := New(1, &collector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)

	done := make(chan struct{})
	go func() {
		s.Emit(event.TraceEvent{Seq: 1})
		s.Emit(event.TraceEvent{Seq: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked after the consumer stopped")
	}
}

func TestStream_DrainAfterCancel(t *testing.T) {
	c := &collector{}
	s := New(8, c)
	for seq := uint64(1); seq <= 3; seq++ {
		s.Emit(event.TraceEvent{Seq: seq})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	s.Close()
	s.Drain()

	assert.Equal(t, []uint64{1, 2, 3}, c.got())
	handled, failed := s.Stats()
	assert.Equal(t, uint64(3), handled)
	assert.Zero(t, failed)
}
