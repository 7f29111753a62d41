// Package interpreter inspects executable files for a "#!" interpreter line
// the same way the kernel does when it loads a script.
package interpreter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// HeaderSize is how much of a file the kernel looks at for "#!"
// (BINPRM_BUF_SIZE).
const HeaderSize = 256

// MaxDepth is the kernel's limit on nested interpreters.
const MaxDepth = 4

var (
	// ErrNotRegular is returned for directories, devices and other non
	// regular files.
	ErrNotRegular = errors.New("not a regular file")
	// ErrEmptyInterpreter is returned for a "#!" line naming no program.
	ErrEmptyInterpreter = errors.New("empty interpreter")
)

// Interpreter is the program named on a "#!" line. Arg is the optional single
// argument, which keeps any inner whitespace as the kernel does.
type Interpreter struct {
	Path string `json:"path"`
	Arg  string `json:"arg,omitempty"`
}

func (i Interpreter) String() string {
	if i.Arg == "" {
		return i.Path
	}
	return i.Path + " " + i.Arg
}

// Resolve reads the header of path and returns its interpreter, or nil when
// the file has no "#!" marker.
func Resolve(path string) (*Interpreter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotRegular
	}

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return Parse(buf[:n])
}

// Parse extracts the interpreter from a file header.
func Parse(header []byte) (*Interpreter, error) {
	if !bytes.HasPrefix(header, []byte("#!")) {
		return nil, nil
	}
	line := header[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.Trim(line, " \t\r")
	if len(line) == 0 {
		return nil, ErrEmptyInterpreter
	}

	end := bytes.IndexAny(line, " \t")
	if end < 0 {
		return &Interpreter{Path: string(line)}, nil
	}
	return &Interpreter{
		Path: string(line[:end]),
		Arg:  string(bytes.TrimLeft(line[end:], " \t")),
	}, nil
}

// Kind classifies the result of an inspection.
type Kind string

const (
	KindNone    Kind = "none"
	KindShebang Kind = "shebang"
	KindError   Kind = "error"
)

// Result is the non-fatal outcome of inspecting one file.
type Result struct {
	Kind        Kind         `json:"kind"`
	Interpreter *Interpreter `json:"interpreter,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

func (r Result) String() string {
	switch r.Kind {
	case KindShebang:
		return r.Interpreter.String()
	case KindError:
		return "(err: " + r.Reason + ")"
	default:
		return "(none)"
	}
}

// Inspect resolves path and folds any error into the Result.
func Inspect(path string) Result {
	interp, err := Resolve(path)
	switch {
	case err != nil:
		return Result{Kind: KindError, Reason: reason(err)}
	case interp == nil:
		return Result{Kind: KindNone}
	default:
		return Result{Kind: KindShebang, Interpreter: interp}
	}
}

// ResolveChain follows interpreters that are themselves scripts, up to
// maxDepth levels. The last element is KindNone or KindError unless the
// depth limit was hit.
func ResolveChain(path string, maxDepth int) []Result {
	var chain []Result
	for depth := 0; depth < maxDepth; depth++ {
		res := Inspect(path)
		chain = append(chain, res)
		if res.Kind != KindShebang {
			break
		}
		path = res.Interpreter.Path
	}
	return chain
}

func reason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "not found"
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	default:
		return err.Error()
	}
}
