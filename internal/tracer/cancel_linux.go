//go:build linux && (amd64 || arm64)

package tracer

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/proctable"
)

// abandon ends the session early. Each tracee is either killed and reaped,
// or detached in the state it was in.
func (s *Supervisor) abandon() {
	if s.opts.KillOnExit {
		s.killAll()
		return
	}
	s.detachAll()
}

func (s *Supervisor) killAll() {
	for _, id := range s.table.IDs() {
		_ = unix.Kill(id, unix.SIGKILL) //nolint:errcheck // Already gone is fine
	}
	for s.table.Len() > 0 {
		var ws unix.WaitStatus
		pid, err := wait4(-1, &ws, unix.WALL)
		if err != nil {
			s.dropAll("tracee vanished while being killed")
			return
		}
		switch {
		case ws.Exited() || ws.Signaled():
			s.handleGone(pid, ws)
		case ws.Stopped():
			// PTRACE_EVENT_EXIT stops still need a resume before the
			// tracee can finish dying.
			_ = unix.PtraceCont(pid, 0) //nolint:errcheck // Dying anyway
		}
	}
}

// detachAll interrupts every tracee and detaches from it at its next stop.
// A tracee in a group-stop stays stopped after the detach.
func (s *Supervisor) detachAll() {
	for _, id := range s.table.IDs() {
		tr := s.table.Get(id)
		if tr.AwaitingParent {
			// Its initial stop was already reported.
			s.detachStopped(tr, 0)
			continue
		}
		if err := unix.PtraceInterrupt(id); err != nil && !isGone(err) {
			s.logger.Debug("interrupt failed", "pid", id, "error", err)
		}
	}

	deadline := time.Now().Add(s.opts.DetachTimeout)
	for s.table.Len() > 0 && time.Now().Before(deadline) {
		var ws unix.WaitStatus
		pid, err := wait4(-1, &ws, unix.WALL|unix.WNOHANG)
		if errors.Is(err, unix.ECHILD) {
			s.dropAll("tracee vanished while detaching")
			return
		}
		if err != nil || pid == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		tr := s.table.Get(pid)
		if tr == nil {
			continue
		}
		switch {
		case ws.Exited() || ws.Signaled():
			s.handleGone(pid, ws)
		case ws.Stopped():
			s.detachStopped(tr, forwardOnDetach(ws))
		}
	}

	// Anything still running never reported a stop in time.
	for _, id := range s.table.IDs() {
		tr := s.table.Remove(id)
		_ = detach(id, 0) //nolint:errcheck // The kernel detaches on our exit anyway
		s.emitDetached(tr)
	}
}

func (s *Supervisor) detachStopped(tr *proctable.Tracee, sig unix.Signal) {
	if err := detach(tr.ID, sig); err != nil && !isGone(err) {
		s.logger.Debug("detach failed", "pid", tr.ID, "error", err)
	}
	s.table.Remove(tr.ID)
	s.emitDetached(tr)
}

func (s *Supervisor) emitDetached(tr *proctable.Tracee) {
	if a := tr.Pending; a != nil {
		tr.Pending = nil
		a.Outcome = event.Outcome{Kind: event.OutcomeUnknown}
		s.conclude(tr, a)
	}
	s.emit(event.TraceEvent{Kind: event.KindWarning, PID: tr.ID, PPID: tr.ParentID, Message: "detached"})
}
