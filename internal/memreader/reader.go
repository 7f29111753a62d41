// Package memreader reads NUL terminated strings and pointer arrays out of a
// stopped tracee's address space.
//
// Every read is bounded and fallible: a fault part way through yields the
// data read so far together with a *ReadError, never a panic.
package memreader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

const (
	// MaxStringLen matches the kernel's MAX_ARG_STRLEN.
	MaxStringLen = 32 * pageSize
	// MaxArrayLen bounds argv/envp reads.
	MaxArrayLen = 1 << 16

	pageSize  = 4096
	ptrSize   = int(unsafe.Sizeof(uintptr(0)))
	chunkSize = pageSize
)

// ErrTooLong is returned when a string or array exceeds its limit.
var ErrTooLong = errors.New("exceeds length limit")

// Memory reads raw bytes from a process.
type Memory interface {
	ReadAt(pid int, addr uintptr, p []byte) (int, error)
}

// ReadError describes a read that did not complete.
type ReadError struct {
	PID  int
	Addr uintptr
	// Partial is set when some data was recovered before the failure.
	Partial bool
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read pid %d at %#x: %v", e.PID, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Reader decodes strings and arrays on top of a Memory.
type Reader struct {
	mem Memory
}

// New creates a Reader over mem.
func New(mem Memory) *Reader {
	return &Reader{mem: mem}
}

// ReadCString reads bytes at addr up to the first NUL. Each chunk stops at a
// page boundary so that a string ending just before an unmapped page is still
// read in full.
func (r *Reader) ReadCString(pid int, addr uintptr) (string, error) {
	if addr == 0 {
		return "", &ReadError{PID: pid, Addr: addr, Err: errors.New("null pointer")}
	}

	var out []byte
	buf := make([]byte, chunkSize)
	cur := addr
	for len(out) < MaxStringLen {
		n := chunkSize - int(cur%pageSize)
		got, err := r.mem.ReadAt(pid, cur, buf[:n])
		if i := bytes.IndexByte(buf[:got], 0); i >= 0 {
			return string(append(out, buf[:i]...)), nil
		}
		out = append(out, buf[:got]...)
		if err != nil {
			return string(out), &ReadError{PID: pid, Addr: addr, Partial: len(out) > 0, Err: err}
		}
		if got == 0 {
			return string(out), &ReadError{PID: pid, Addr: addr, Partial: len(out) > 0, Err: errors.New("short read")}
		}
		cur += uintptr(got)
	}
	return string(out[:MaxStringLen]), &ReadError{PID: pid, Addr: addr, Partial: true, Err: ErrTooLong}
}

// ReadPointer reads one native pointer word at addr.
func (r *Reader) ReadPointer(pid int, addr uintptr) (uintptr, error) {
	buf := make([]byte, ptrSize)
	n, err := r.mem.ReadAt(pid, addr, buf)
	if err == nil && n < ptrSize {
		err = errors.New("short read")
	}
	if err != nil {
		return 0, &ReadError{PID: pid, Addr: addr, Err: err}
	}
	if ptrSize == 8 {
		return uintptr(binary.NativeEndian.Uint64(buf)), nil
	}
	return uintptr(binary.NativeEndian.Uint32(buf)), nil
}

// ReadStringArray reads a NULL terminated array of string pointers such as
// argv or envp. A zero addr is an empty array, as the kernel treats it.
// The first unreadable pointer or string ends the read; what was collected
// is returned along with the error, including a partially read string.
func (r *Reader) ReadStringArray(pid int, addr uintptr) ([]string, error) {
	out := []string{}
	if addr == 0 {
		return out, nil
	}
	for i := 0; ; i++ {
		if i >= MaxArrayLen {
			return out, &ReadError{PID: pid, Addr: addr, Partial: true, Err: ErrTooLong}
		}
		ptr, err := r.ReadPointer(pid, addr+uintptr(i*ptrSize))
		if err != nil {
			return out, withPartial(err, len(out) > 0)
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := r.ReadCString(pid, ptr)
		if err != nil {
			if s != "" {
				out = append(out, s)
			}
			return out, withPartial(err, len(out) > 0)
		}
		out = append(out, s)
	}
}

func withPartial(err error, partial bool) error {
	var re *ReadError
	if errors.As(err, &re) {
		re.Partial = re.Partial || partial
	}
	return err
}
