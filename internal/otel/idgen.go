package otel

import (
	"context"
	"crypto/rand"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// IDGenerator generates random span and trace IDs, except that once a trace
// ID is pinned every new root span uses it. This lets the first span of a
// session join a trace chosen from the traced program's environment without
// inventing a parent span.
type IDGenerator struct {
	mu     sync.Mutex
	pinned trace.TraceID
}

// PinTraceID makes subsequent root spans use id.
func (g *IDGenerator) PinTraceID(id trace.TraceID) {
	g.mu.Lock()
	g.pinned = id
	g.mu.Unlock()
}

// NewIDs returns the IDs of a new root span.
func (g *IDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	g.mu.Lock()
	tid := g.pinned
	g.mu.Unlock()
	if !tid.IsValid() {
		_, _ = rand.Read(tid[:]) //nolint:errcheck // crypto/rand.Read never fails
	}
	return tid, g.NewSpanID(ctx, tid)
}

// NewSpanID returns a random span ID.
func (g *IDGenerator) NewSpanID(_ context.Context, _ trace.TraceID) trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		_, _ = rand.Read(sid[:]) //nolint:errcheck // crypto/rand.Read never fails
	}
	return sid
}
