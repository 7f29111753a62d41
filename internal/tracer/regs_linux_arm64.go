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
		nr:   r.Regs[8],
		args: [6]uint64{r.Regs[0], r.Regs[1], r.Regs[2], r.Regs[3], r.Regs[4], r.Regs[5]},
		//nolint:gosec // x0 holds a signed return value
		ret: int64(r.Regs[0]),
	}, nil
}

// notEntry never rules out an entry on arm64: x0 is the first argument on
// entry, so only the stop parity tells entry from exit.
func notEntry(syscallRegs) bool {
	return false
}
