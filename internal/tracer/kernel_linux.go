//go:build linux && (amd64 || arm64)

package tracer

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mrzor/exec-tracer/internal/log"
)

// Kernels before 4.8 report syscall-exit stops for execve inconsistently
// when other tracing features are active.
const minMajor, minMinor = 4, 8

func checkKernel() {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return
	}
	release := unix.ByteSliceToString(uts.Release[:])
	major, minor, ok := parseRelease(release)
	if !ok {
		log.Debug("unrecognized kernel release", "release", release)
		return
	}
	if major < minMajor || (major == minMajor && minor < minMinor) {
		log.Warn("kernel is older than 4.8, exec tracing may be unreliable", "release", release)
	}
}

func parseRelease(release string) (int, int, bool) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minorStr := parts[1]
	if i := strings.IndexFunc(minorStr, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		minorStr = minorStr[:i]
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
