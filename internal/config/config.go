package config

import (
	"fmt"
	"strings"

	"github.com/mrzor/exec-tracer/internal/event"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	// FormatShell prints each exec as a bash line that repeats it.
	FormatShell = "shell"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// DefaultQueueSize is the capacity of the event queue between the tracer
// and the output handlers.
const DefaultQueueSize = 4096

// Config holds the parsed command-line configuration
type Config struct {
	// Command is the executable to run
	Command string
	// Args are the arguments to pass to the command
	Args []string
	// PID attaches to a running process instead of spawning Command
	PID int

	// Fields selects what each exec event carries
	Fields event.Fields

	// Output is where events are written: "" for stderr, "-" for stdout,
	// anything else is a file path
	Output string
	// Format is FormatText, FormatJSON or FormatShell
	Format string
	// Color is ColorAuto, ColorAlways or ColorNever
	Color string

	// QueueSize bounds the number of events in flight
	QueueSize int
	// KillOnExit kills all tracees if the tracer exits
	KillOnExit bool

	// CustomAttributes are user-defined attributes attached to spans and JSON events
	CustomAttributes []CustomAttribute
	// OTEL exports one span per traced process
	OTEL bool
	// TraceID is an expression evaluated against the root exec to pick the trace ID
	TraceID string
	// ParentID is an expression evaluated against the root exec to pick the parent span ID
	ParentID string

	// AuditLog is a file receiving every event as a rotated JSON log
	AuditLog string

	// Verbose enables debug logging
	Verbose bool
	// LogJSON switches diagnostics to JSON
	LogJSON bool
	// LogFile additionally writes diagnostics to a rotated file
	LogFile string
}

// CustomAttribute represents a user-defined attribute with an expression
type CustomAttribute struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expr"`
}

// Default returns the configuration used when no flag or profile overrides it.
func Default() *Config {
	return &Config{
		Fields:    event.DefaultFields(),
		Format:    FormatText,
		Color:     ColorAuto,
		QueueSize: DefaultQueueSize,
	}
}

// ParseCustomAttribute parses an attribute in NAME=EXPR form. Only the first
// '=' separates the name, so expressions may contain '=='.
func ParseCustomAttribute(s string) (CustomAttribute, error) {
	name, expr, ok := strings.Cut(s, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q: expected NAME=EXPR", s)
	}
	name = strings.TrimSpace(name)
	expr = strings.TrimSpace(expr)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: name cannot be empty", s)
	}
	if expr == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: expression cannot be empty", s)
	}
	return CustomAttribute{Name: name, Expression: expr}, nil
}

// TracerFields returns the fields the tracer has to capture. The shell
// format needs the filename, argv, cwd and environment changes regardless of
// the display toggles.
func (c *Config) TracerFields() event.Fields {
	f := c.Fields
	if c.Format == FormatShell {
		f.ShowFilename = true
		f.ShowArgv = true
		f.ShowCwd = true
		f.DiffEnv = true
	}
	return f
}

// Validate reports the first inconsistency in the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Command == "" && c.PID == 0:
		return fmt.Errorf("no command specified: use -- <command> [args...] or --pid")
	case c.Command != "" && c.PID != 0:
		return fmt.Errorf("--pid cannot be combined with a command")
	case c.PID < 0:
		return fmt.Errorf("invalid pid %d", c.PID)
	}

	switch c.Format {
	case FormatText, FormatJSON, FormatShell:
	default:
		return fmt.Errorf("unknown format %q: expected %s, %s or %s", c.Format, FormatText, FormatJSON, FormatShell)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("unknown color mode %q: expected auto, always or never", c.Color)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}

	for _, attr := range c.CustomAttributes {
		if attr.Name == "" {
			return fmt.Errorf("invalid attribute: name cannot be empty")
		}
		if attr.Expression == "" {
			return fmt.Errorf("invalid attribute %q: expression cannot be empty", attr.Name)
		}
	}
	// Expressions see the environment rebuilt from events
	if c.usesExpressions() && !c.Fields.DiffEnv && !c.Fields.ShowEnv {
		return fmt.Errorf("attribute expressions need the environment: enable --diff-env or --show-env")
	}
	if (c.TraceID != "" || c.ParentID != "") && !c.OTEL {
		return fmt.Errorf("--trace-id and --parent-id require --otel")
	}
	return nil
}

func (c *Config) usesExpressions() bool {
	return len(c.CustomAttributes) > 0 || c.TraceID != "" || c.ParentID != ""
}

// FullCommand returns the command and all its arguments as a slice
func (c *Config) FullCommand() []string {
	if c.Command == "" {
		return nil
	}
	return append([]string{c.Command}, c.Args...)
}
