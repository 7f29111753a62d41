package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

// ShellPrinter writes every successful exec as a bash command line that
// repeats it from a shell started with the base environment. Failed execs
// are written as comments and other events are skipped.
type ShellPrinter struct {
	w    *bufio.Writer
	base envdiff.Environment
	envs *envTracker
}

// NewShellPrinter creates a ShellPrinter. baseEnv is both the environment
// assumed for untraced parents and the one the printed lines start from.
func NewShellPrinter(w io.Writer, baseEnv envdiff.Environment) *ShellPrinter {
	return &ShellPrinter{
		w:    bufio.NewWriter(w),
		base: baseEnv,
		envs: newEnvTracker(baseEnv),
	}
}

// HandleEvent writes the line for ev, if any.
func (p *ShellPrinter) HandleEvent(ev event.TraceEvent) error {
	env := p.envs.observe(ev)
	a := ev.Exec
	if ev.Kind != event.KindExec || a == nil {
		return nil
	}
	switch a.Outcome.Kind {
	case event.OutcomeSuccess:
		line := ShellCommand(a, envdiff.Compute(p.base, env))
		if incomplete := unreadParts(a); incomplete != "" {
			commented := strings.ReplaceAll(line, "\n", "\n# ")
			fmt.Fprintf(p.w, "# pid %d: %s incomplete\n# %s\n", ev.PID, incomplete, commented)
		} else {
			fmt.Fprintln(p.w, line)
		}
	case event.OutcomeFailure:
		fmt.Fprintf(p.w, "# pid %d: %q failed: %s\n", ev.PID, execPath(a), errnoLabel(a.Outcome))
	default:
		return nil
	}
	return p.w.Flush()
}

// Close flushes buffered output.
func (p *ShellPrinter) Close() error {
	return p.w.Flush()
}

// ShellCommand renders a as a bash subshell that changes into its working
// directory, applies changes and runs the program with the same argv.
// Variables whose names bash cannot assign go through env(1), which loses a
// custom argv[0].
func ShellCommand(a *event.ExecAttempt, changes envdiff.Diff) string {
	var steps []string
	if a.Cwd != "" {
		steps = append(steps, "cd "+shellescape.Quote(string(a.Cwd)))
	}

	var unset, export, envUnset, envSet []string
	for _, c := range changes {
		if !isShellName(c.Key) {
			if c.Kind == envdiff.Removed {
				envUnset = append(envUnset, "-u", shellescape.Quote(c.Key))
			} else {
				envSet = append(envSet, shellescape.Quote(c.Key+"="+c.New))
			}
			continue
		}
		if c.Kind == envdiff.Removed {
			unset = append(unset, c.Key)
		} else {
			export = append(export, c.Key+"="+shellescape.Quote(c.New))
		}
	}
	if len(unset) > 0 {
		steps = append(steps, "unset "+strings.Join(unset, " "))
	}
	if len(export) > 0 {
		steps = append(steps, "export "+strings.Join(export, " "))
	}

	path := execPath(a)
	argv := event.Strings(a.Argv)
	run := []string{"exec"}
	switch {
	case len(envUnset) > 0 || len(envSet) > 0:
		// env(1) stops parsing options at the first assignment.
		run = append(run, "env")
		run = append(run, envUnset...)
		run = append(run, envSet...)
	case len(argv) > 0 && argv[0] != path:
		run = append(run, "-a", shellescape.Quote(argv[0]))
	}
	run = append(run, shellescape.Quote(path))
	if len(argv) > 1 {
		run = append(run, shellescape.QuoteCommand(argv[1:]))
	}
	steps = append(steps, strings.Join(run, " "))

	return "(" + strings.Join(steps, " && ") + ")"
}

func execPath(a *event.ExecAttempt) string {
	if a.ResolvedPath != "" {
		return a.ResolvedPath
	}
	return string(a.Filename)
}

func errnoLabel(o event.Outcome) string {
	if o.ErrnoName != "" {
		return o.ErrnoName
	}
	return fmt.Sprintf("errno %d", o.Errno)
}

func unreadParts(a *event.ExecAttempt) string {
	var parts []string
	if !a.FilenameRead.OK() {
		parts = append(parts, "filename")
	}
	if !a.ArgvRead.OK() {
		parts = append(parts, "argv")
	}
	if !a.EnvpRead.OK() {
		parts = append(parts, "environment")
	}
	return strings.Join(parts, ", ")
}

// isShellName reports whether key can be assigned by bash.
func isShellName(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
