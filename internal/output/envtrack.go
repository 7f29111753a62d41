package output

import (
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

// envTracker rebuilds the environment of each process from events.
type envTracker struct {
	base envdiff.Environment
	envs map[int]envdiff.Environment
}

// newEnvTracker starts from base, the environment assumed for processes
// whose ancestry was not observed.
func newEnvTracker(base envdiff.Environment) *envTracker {
	return &envTracker{base: base, envs: make(map[int]envdiff.Environment)}
}

func (t *envTracker) current(pid int) envdiff.Environment {
	if env, ok := t.envs[pid]; ok {
		return env
	}
	return t.base
}

// observe updates the tracker and returns the environment pid has after ev.
func (t *envTracker) observe(ev event.TraceEvent) envdiff.Environment {
	switch ev.Kind {
	case event.KindCreated:
		env := t.current(ev.PPID)
		t.envs[ev.PID] = env
		return env
	case event.KindExec:
		env := t.current(ev.PID)
		a := ev.Exec
		if a == nil || a.Outcome.Kind != event.OutcomeSuccess {
			return env
		}
		if len(a.Envp) > 0 {
			env = a.Environment()
		} else {
			env = envdiff.Apply(env, a.EnvDiff)
		}
		t.envs[ev.PID] = env
		return env
	case event.KindExited:
		env := t.current(ev.PID)
		delete(t.envs, ev.PID)
		return env
	}
	return t.current(ev.PID)
}
