package tracer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/memreader"
	"github.com/mrzor/exec-tracer/internal/procfs"
)

// ErrUnsupported is returned on platforms without ptrace support.
var ErrUnsupported = errors.New("tracing is only supported on linux/amd64 and linux/arm64")

// Error is a fatal session error: the root could not be spawned, attached
// or configured.
type Error struct {
	Op  string
	PID int
	Err error
}

func (e *Error) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s pid %d: %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Emitter receives events in the order they were observed.
type Emitter interface {
	Emit(ev event.TraceEvent)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev event.TraceEvent)

// Emit calls f.
func (f EmitterFunc) Emit(ev event.TraceEvent) {
	f(ev)
}

// Target is what to trace: a command to spawn, or a running process.
type Target struct {
	Command string
	Args    []string
	// Env is the root's environment. Nil inherits the tracer's.
	Env []string
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// PID attaches to an existing process instead of spawning Command.
	PID int
}

// Options configures a Supervisor.
type Options struct {
	Fields event.Fields
	// KillOnExit kills remaining tracees when the session is cancelled or
	// the tracer dies, instead of detaching from them.
	KillOnExit bool
	// PollInterval bounds how long the loop sleeps when no SIGCHLD arrives.
	PollInterval time.Duration
	// DetachTimeout bounds how long cancellation waits for tracees to stop.
	DetachTimeout time.Duration

	// Memory overrides how tracee memory is read.
	Memory memreader.Memory
	// Proc overrides the procfs mount.
	Proc procfs.FS
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.DetachTimeout <= 0 {
		o.DetachTimeout = 2 * time.Second
	}
	if o.Proc.Root == "" {
		o.Proc = procfs.Default()
	}
}
