package output

import (
	"time"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func execEvent(seq uint64, pid int, filename string, argv []string, diff envdiff.Diff) event.TraceEvent {
	return event.TraceEvent{
		Seq:  seq,
		Time: t0.Add(time.Duration(seq) * time.Millisecond),
		Kind: event.KindExec,
		PID:  pid,
		Exec: &event.ExecAttempt{
			Syscall:  "execve",
			Filename: event.ByteString(filename),
			Argv:     event.ByteStrings(argv),
			EnvDiff:  diff,
			Comm:     "sh",
			Outcome:  event.Outcome{Kind: event.OutcomeSuccess},
		},
	}
}

func failedExec(seq uint64, pid int, filename string) event.TraceEvent {
	ev := execEvent(seq, pid, filename, []string{filename}, nil)
	ev.Exec.Outcome = event.Outcome{Kind: event.OutcomeFailure, Errno: 2, ErrnoName: "ENOENT"}
	return ev
}

func createdEvent(seq uint64, pid, ppid int) event.TraceEvent {
	return event.TraceEvent{Seq: seq, Time: t0.Add(time.Duration(seq) * time.Millisecond), Kind: event.KindCreated, PID: pid, PPID: ppid}
}

func exitedEvent(seq uint64, pid, code int) event.TraceEvent {
	return event.TraceEvent{
		Seq:  seq,
		Time: t0.Add(time.Duration(seq) * time.Millisecond),
		Kind: event.KindExited,
		PID:  pid,
		Exit: &event.ExitStatus{Code: code},
	}
}
