//go:build !linux || !(amd64 || arm64)

package tracer

import (
	"context"

	"github.com/mrzor/exec-tracer/internal/event"
)

// Supervisor is unavailable on this platform.
type Supervisor struct{}

// NewSupervisor returns a Supervisor whose Run always fails.
func NewSupervisor(_ Options, _ Emitter) *Supervisor {
	return &Supervisor{}
}

// Run returns ErrUnsupported.
func (s *Supervisor) Run(_ context.Context, _ Target) (event.ExitStatus, error) {
	return event.ExitStatus{Unknown: true}, ErrUnsupported
}
