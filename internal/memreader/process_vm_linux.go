package memreader

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessVM reads tracee memory with process_vm_readv, falling back to
// PTRACE_PEEKDATA when the syscall is unavailable or refused.
type ProcessVM struct {
	peekOnly bool
}

// NewProcessVM returns the production Memory implementation.
func NewProcessVM() *ProcessVM {
	return &ProcessVM{}
}

func (m *ProcessVM) ReadAt(pid int, addr uintptr, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !m.peekOnly {
		n, err := processVMRead(pid, addr, p)
		if !errors.Is(err, unix.ENOSYS) && !errors.Is(err, unix.EPERM) {
			return n, err
		}
		m.peekOnly = true
	}
	return unix.PtracePeekData(pid, addr, p)
}

func processVMRead(pid int, addr uintptr, p []byte) (int, error) {
	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: addr, Len: len(p)}}
	for {
		n, err := unix.ProcessVMReadv(pid, local, remote, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}
