package attributes

import (
	"strings"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

// Subject is what expressions are evaluated against.
type Subject struct {
	PID      int
	Filename string
	Args     []string
	Env      map[string]string
	Cwd      string
	Comm     string
}

// NewSubject builds a Subject from an exec attempt and the environment the
// new program started with.
func NewSubject(pid int, a *event.ExecAttempt, env envdiff.Environment) *Subject {
	return &Subject{
		PID:      pid,
		Filename: a.Filename.Lossy(),
		Args:     event.Strings(a.Argv),
		Env:      env.Map(),
		Cwd:      a.Cwd.Lossy(),
		Comm:     a.Comm,
	}
}

func (s *Subject) exprEnv() map[string]interface{} {
	args := s.Args
	if args == nil {
		args = []string{}
	}
	env := s.Env
	if env == nil {
		env = map[string]string{}
	}
	return map[string]interface{}{
		"env":      env,
		"args":     args,
		"cmdline":  strings.Join(args, " "),
		"filename": s.Filename,
		"cwd":      s.Cwd,
		"comm":     s.Comm,
		"pid":      s.PID,
	}
}

// typeEnv is the environment used for compile time type checking.
func typeEnv() map[string]interface{} {
	return (&Subject{}).exprEnv()
}
