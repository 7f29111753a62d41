package output

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mrzor/exec-tracer/internal/event"
)

// AuditLog appends every event to a size rotated JSON log.
type AuditLog struct {
	file   *lumberjack.Logger
	out    *stickyWriter
	logger zerolog.Logger
}

// stickyWriter keeps the last write error, which zerolog only reports to
// its global ErrorHandler.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (w *stickyWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *stickyWriter) takeErr() error {
	err := w.err
	w.err = nil
	return err
}

// NewAuditLog opens the audit log at path. Files rotate at 10 MB and three
// backups are kept.
func NewAuditLog(path string) *AuditLog {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
	}
	out := &stickyWriter{w: file}
	return &AuditLog{
		file:   file,
		out:    out,
		logger: zerolog.New(out).With().Timestamp().Logger(),
	}
}

// HandleEvent logs ev. Warnings are logged at warn level. A failed write is
// returned.
func (l *AuditLog) HandleEvent(ev event.TraceEvent) error {
	e := l.logger.Info()
	if ev.Kind == event.KindWarning {
		e = l.logger.Warn()
	}
	e = e.Uint64("seq", ev.Seq).
		Time("eventTime", ev.Time).
		Int("pid", ev.PID).
		Int("ppid", ev.PPID)

	switch {
	case ev.Exec != nil:
		a := ev.Exec
		e = e.Str("syscall", a.Syscall).
			Str("filename", a.Filename.Lossy()).
			Strs("argv", event.Strings(a.Argv)).
			Str("outcome", string(a.Outcome.Kind))
		if a.Outcome.Errno != 0 {
			e = e.Int("errno", a.Outcome.Errno).Str("errnoName", a.Outcome.ErrnoName)
		}
		if len(a.EnvDiff) > 0 {
			e = e.Interface("envDiff", a.EnvDiff)
		}
	case ev.Exit != nil:
		e = e.Int("exitCode", ev.Exit.ShellCode()).Str("exitStatus", ev.Exit.String())
	}
	if ev.Message != "" {
		e = e.Str("detail", ev.Message)
	}
	e.Msg(string(ev.Kind))
	if err := l.out.takeErr(); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (l *AuditLog) Close() error {
	return l.file.Close()
}
