//go:build linux && (amd64 || arm64)

package tracer

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/mrzor/exec-tracer/internal/event"
)

const (
	// syscallTrap is the stop signal of a syscall stop under
	// PTRACE_O_TRACESYSGOOD.
	syscallTrap = unix.SIGTRAP | 0x80

	baseOptions = unix.PTRACE_O_TRACESYSGOOD |
		unix.PTRACE_O_TRACEEXEC |
		unix.PTRACE_O_TRACEFORK |
		unix.PTRACE_O_TRACEVFORK |
		unix.PTRACE_O_TRACECLONE |
		unix.PTRACE_O_TRACEEXIT
)

func traceOptions(killOnExit bool) int {
	if killOnExit {
		return baseOptions | unix.PTRACE_O_EXITKILL
	}
	return baseOptions
}

// seize attaches to pid with PTRACE_SEIZE and the given options. Unlike
// PTRACE_ATTACH it does not stop the tracee, and it makes group-stops
// reportable as PTRACE_EVENT_STOP so that they can be kept with
// PTRACE_LISTEN. Children auto-attached through fork events inherit this.
func seize(pid int, options int) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_SEIZE,
		uintptr(pid), 0, uintptr(options), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// listen leaves a tracee in its group-stop. The kernel reports another
// PTRACE_EVENT_STOP when SIGCONT ends it.
func listen(pid int) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_LISTEN,
		uintptr(pid), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// stopEvent returns the PTRACE_EVENT_* of a stop, or 0 for syscall and
// signal-delivery stops. Unlike WaitStatus.TrapCause it also decodes
// PTRACE_EVENT_STOP, whose stop signal is not always SIGTRAP.
func stopEvent(ws unix.WaitStatus) int {
	return int(uint32(ws) >> 16)
}

func isStopSignal(sig unix.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}

// forwardOnDetach is the signal to hand back when detaching from a stop.
// Only signal-delivery stops carry one.
func forwardOnDetach(ws unix.WaitStatus) unix.Signal {
	sig := ws.StopSignal()
	if sig == syscallTrap || stopEvent(ws) != 0 {
		return 0
	}
	return sig
}

// detach detaches from a stopped tracee, delivering sig to it.
func detach(pid int, sig unix.Signal) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH,
		uintptr(pid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// exitStatus decodes a wait status, or the status reported with
// PTRACE_EVENT_EXIT, which has the same layout.
func exitStatus(ws unix.WaitStatus) event.ExitStatus {
	switch {
	case ws.Exited():
		return event.ExitStatus{Code: ws.ExitStatus()}
	case ws.Signaled():
		sig := ws.Signal()
		return event.ExitStatus{
			Signal:     int(sig),
			SignalName: unix.SignalName(sig),
			CoreDumped: ws.CoreDump(),
		}
	default:
		return event.ExitStatus{Unknown: true}
	}
}

func errnoName(errno int) string {
	return unix.ErrnoName(unix.Errno(errno))
}
