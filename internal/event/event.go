package event

import (
	"fmt"
	"time"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/interpreter"
)

// Kind tags a TraceEvent.
type Kind string

const (
	KindExec    Kind = "exec"
	KindCreated Kind = "created"
	KindExited  Kind = "exited"
	KindWarning Kind = "warning"
)

// OutcomeKind is the result of an exec attempt.
type OutcomeKind string

const (
	OutcomePending OutcomeKind = "pending"
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	// OutcomeUnknown is used when the tracee vanished before the attempt
	// concluded.
	OutcomeUnknown OutcomeKind = "unknown"
)

// Outcome is the conclusion of an exec attempt. Errno is positive and only
// set for failures.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Errno     int         `json:"errno,omitempty"`
	ErrnoName string      `json:"errno_name,omitempty"`
}

// ReadStatus records how reading a value out of tracee memory went.
type ReadStatus struct {
	Truncated  bool   `json:"truncated,omitempty"`
	Unreadable bool   `json:"unreadable,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// OK reports whether the value was read completely.
func (r ReadStatus) OK() bool {
	return !r.Truncated && !r.Unreadable
}

// ExecAttempt is one execve/execveat call, captured at syscall entry and
// concluded at the exec event or syscall exit.
type ExecAttempt struct {
	Syscall string `json:"syscall"`
	// Filename is the raw path argument. ResolvedPath is that path made
	// absolute against the cwd or dirfd, and is what gets inspected.
	Filename     ByteString `json:"filename,omitempty"`
	ResolvedPath string     `json:"resolved_path,omitempty"`
	FilenameRead ReadStatus `json:"filename_read,omitzero"`

	Argv     []ByteString `json:"argv,omitempty"`
	ArgvRead ReadStatus   `json:"argv_read,omitzero"`
	Envp     []ByteString `json:"envp,omitempty"`
	EnvpRead ReadStatus   `json:"envp_read,omitzero"`
	EnvDiff  envdiff.Diff `json:"env_diff,omitempty"`

	Cwd          ByteString           `json:"cwd,omitempty"`
	Comm         string               `json:"comm,omitempty"`
	Interpreters []interpreter.Result `json:"interpreters,omitempty"`

	Outcome   Outcome   `json:"outcome"`
	StartedAt time.Time `json:"started_at"`
}

// Environment parses the captured envp.
func (a *ExecAttempt) Environment() envdiff.Environment {
	return envdiff.Parse(Strings(a.Envp))
}

// ExitStatus describes how a tracee terminated.
type ExitStatus struct {
	Code       int    `json:"code"`
	Signal     int    `json:"signal,omitempty"`
	SignalName string `json:"signal_name,omitempty"`
	CoreDumped bool   `json:"core_dumped,omitempty"`
	// Unknown is set when the tracee disappeared without an exit
	// notification.
	Unknown bool `json:"unknown,omitempty"`
}

// ShellCode maps the status to a shell style exit code: the exit code, or
// 128 plus the signal number.
func (s ExitStatus) ShellCode() int {
	if s.Signal != 0 {
		return 128 + s.Signal
	}
	return s.Code
}

func (s ExitStatus) String() string {
	switch {
	case s.Unknown:
		return "unknown"
	case s.Signal != 0:
		if s.CoreDumped {
			return fmt.Sprintf("signaled %s (core dumped)", s.SignalName)
		}
		return "signaled " + s.SignalName
	default:
		return fmt.Sprintf("exited %d", s.Code)
	}
}

// TraceEvent is the externally visible record emitted by the tracer.
type TraceEvent struct {
	Seq     uint64       `json:"seq"`
	Time    time.Time    `json:"time"`
	Kind    Kind         `json:"kind"`
	PID     int          `json:"pid"`
	PPID    int          `json:"ppid,omitempty"`
	Exec    *ExecAttempt `json:"exec,omitempty"`
	Exit    *ExitStatus  `json:"exit,omitempty"`
	Message string       `json:"message,omitempty"`
}
