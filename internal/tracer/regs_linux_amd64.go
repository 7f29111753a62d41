package tracer

import "golang.org/x/sys/unix"

// syscallRegs is the architecture neutral view of a syscall stop.
type syscallRegs struct {
	nr   uint64
	args [6]uint64
	ret  int64
}

func readRegs(pid int) (syscallRegs, error) {
	var r unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &r); err != nil {
		return syscallRegs{}, err
	}
	return syscallRegs{
		nr:   r.Orig_rax,
		args: [6]uint64{r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9},
		//nolint:gosec // rax holds a signed return value
		ret: int64(r.Rax),
	}, nil
}

// notEntry reports a stop that cannot be a syscall entry: on entry the
// kernel preloads rax with -ENOSYS.
func notEntry(regs syscallRegs) bool {
	return regs.ret != -int64(unix.ENOSYS)
}
