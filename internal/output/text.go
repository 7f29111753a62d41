package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/interpreter"
)

type textStyles struct {
	pid     lipgloss.Style
	comm    lipgloss.Style
	added   lipgloss.Style
	addedKV lipgloss.Style
	removed lipgloss.Style
	remKV   lipgloss.Style
	changed lipgloss.Style
	chgVal  lipgloss.Style
	errno   lipgloss.Style
	dim     lipgloss.Style
	warn    lipgloss.Style
}

func newTextStyles(r *lipgloss.Renderer) textStyles {
	return textStyles{
		pid:     r.NewStyle().Foreground(lipgloss.Color("3")),
		comm:    r.NewStyle().Foreground(lipgloss.Color("6")),
		added:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		addedKV: r.NewStyle().Background(lipgloss.Color("2")),
		removed: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		remKV:   r.NewStyle().Background(lipgloss.Color("1")).Strikethrough(true),
		changed: r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		chgVal:  r.NewStyle().Background(lipgloss.Color("4")),
		errno:   r.NewStyle().Foreground(lipgloss.Color("9")),
		dim:     r.NewStyle().Faint(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// TextPrinter writes one line per exec attempt:
//
//	<pid><comm>: "<filename>" ["argv0", ...] [+"K"="V", M"K"="V", -"K"="V"] = -2 (ENOENT)
//
// Process creation and exit lines are written when ShowChildren is set.
type TextPrinter struct {
	w      *bufio.Writer
	fields event.Fields
	styles textStyles
}

// NewTextPrinter creates a TextPrinter. color forces ANSI colors on or off
// regardless of what w is.
func NewTextPrinter(w io.Writer, fields event.Fields, color bool) *TextPrinter {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &TextPrinter{
		w:      bufio.NewWriter(w),
		fields: fields,
		styles: newTextStyles(r),
	}
}

// HandleEvent writes ev. Each line is flushed so output interleaves with
// the traced program's.
func (p *TextPrinter) HandleEvent(ev event.TraceEvent) error {
	switch ev.Kind {
	case event.KindExec:
		p.writeExec(ev)
	case event.KindCreated:
		if !p.fields.ShowChildren {
			return nil
		}
		fmt.Fprintf(p.w, "%s -> %s\n", p.styles.pid.Render(strconv.Itoa(ev.PPID)), p.styles.pid.Render(strconv.Itoa(ev.PID)))
	case event.KindExited:
		if !p.fields.ShowChildren || ev.Exit == nil {
			return nil
		}
		fmt.Fprintf(p.w, "%s %s\n", p.styles.pid.Render(strconv.Itoa(ev.PID)), p.styles.dim.Render(ev.Exit.String()))
	case event.KindWarning:
		fmt.Fprintf(p.w, "%s %s\n", p.styles.pid.Render(strconv.Itoa(ev.PID)), p.styles.warn.Render("warning: "+ev.Message))
	}
	return p.w.Flush()
}

// Close flushes buffered output.
func (p *TextPrinter) Close() error {
	return p.w.Flush()
}

func (p *TextPrinter) writeExec(ev event.TraceEvent) {
	a := ev.Exec
	if a == nil {
		return
	}
	s := p.styles
	w := p.w

	w.WriteString(s.pid.Render(strconv.Itoa(ev.PID)))
	if p.fields.ShowComm {
		w.WriteString("<" + s.comm.Render(a.Comm) + ">")
	}
	w.WriteString(":")
	if p.fields.ShowCwd {
		w.WriteString(" " + s.dim.Render("cwd="+quote(a.Cwd)))
	}
	if p.fields.ShowFilename {
		w.WriteString(" ")
		if a.FilenameRead.Unreadable {
			w.WriteString(s.errno.Render("<unreadable>"))
		} else {
			w.WriteString(quote(a.Filename))
		}
	}
	if p.fields.ShowArgv {
		w.WriteString(" " + quoteList(a.Argv, a.ArgvRead))
	}
	if p.fields.DiffEnv && !p.fields.ShowEnv {
		w.WriteString(" " + p.renderDiff(a.EnvDiff))
	} else if p.fields.ShowEnv {
		w.WriteString(" " + quoteList(a.Envp, a.EnvpRead))
	}
	if p.fields.ShowInterpreter && len(a.Interpreters) > 0 {
		w.WriteString(" " + s.dim.Render("interpreter: "+renderInterpreters(a.Interpreters)))
	}

	switch a.Outcome.Kind {
	case event.OutcomeFailure:
		w.WriteString(" = " + strconv.Itoa(-a.Outcome.Errno))
		if p.fields.DecodeErrno && a.Outcome.ErrnoName != "" {
			w.WriteString(" (" + s.errno.Render(a.Outcome.ErrnoName) + ")")
		}
	case event.OutcomeUnknown:
		w.WriteString(" = ? " + s.dim.Render("(tracee gone)"))
	}
	w.WriteString("\n")
}

func (p *TextPrinter) renderDiff(d envdiff.Diff) string {
	s := p.styles
	parts := make([]string, 0, len(d))
	for _, c := range d {
		key := strconv.Quote(c.Key)
		switch c.Kind {
		case envdiff.Added:
			parts = append(parts, s.added.Render("+")+s.addedKV.Render(key+"="+strconv.Quote(c.New)))
		case envdiff.Removed:
			parts = append(parts, s.removed.Render("-")+s.remKV.Render(key+"="+strconv.Quote(c.Old)))
		case envdiff.Changed:
			parts = append(parts, s.changed.Render("M")+key+"="+s.chgVal.Render(strconv.Quote(c.New)))
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderInterpreters(chain []interpreter.Result) string {
	parts := make([]string, len(chain))
	for i, r := range chain {
		parts[i] = r.String()
	}
	return strings.Join(parts, " -> ")
}

func quote(b event.ByteString) string {
	return strconv.Quote(string(b))
}

func quoteList(items []event.ByteString, rs event.ReadStatus) string {
	if rs.Unreadable && len(items) == 0 {
		return "<unreadable>"
	}
	parts := make([]string, 0, len(items)+1)
	for _, item := range items {
		parts = append(parts, quote(item))
	}
	if !rs.OK() {
		parts = append(parts, "...")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
