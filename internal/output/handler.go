package output

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/mrzor/exec-tracer/internal/config"
	"github.com/mrzor/exec-tracer/internal/event"
)

// Handler renders events. Close flushes and releases what the handler owns.
type Handler interface {
	HandleEvent(ev event.TraceEvent) error
	Close() error
}

// Multi fans events out to several handlers. Every handler sees every
// event even when an earlier one fails.
type Multi []Handler

// HandleEvent forwards ev to each handler and joins their errors.
func (m Multi) HandleEvent(ev event.TraceEvent) error {
	var errs []error
	for _, h := range m {
		if err := h.HandleEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every handler.
func (m Multi) Close() error {
	var errs []error
	for _, h := range m {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destination is an output stream opened from the -o flag.
type Destination struct {
	io.Writer
	file  *os.File
	owned bool
}

// OpenDestination resolves the output flag: "" is stderr, "-" is stdout,
// anything else is a file that is created or truncated.
func OpenDestination(path string) (*Destination, error) {
	switch path {
	case "":
		return &Destination{Writer: os.Stderr, file: os.Stderr}, nil
	case "-":
		return &Destination{Writer: os.Stdout, file: os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	return &Destination{Writer: f, file: f, owned: true}, nil
}

// IsTerminal reports whether the destination is a terminal.
func (d *Destination) IsTerminal() bool {
	if d.file == nil {
		return false
	}
	fd := d.file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Close closes the destination if it is a file opened by OpenDestination.
func (d *Destination) Close() error {
	if !d.owned {
		return nil
	}
	return d.file.Close()
}

// UseColor decides whether to emit ANSI colors. Auto colors terminals
// unless NO_COLOR is set.
func UseColor(mode string, tty, noColor bool) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default:
		return tty && !noColor
	}
}
