package tracer

import (
	"path/filepath"
)

const (
	atFDCWD     = -100
	atEmptyPath = 0x1000
)

// resolveExecPath turns the filename argument of an exec call into the
// absolute path the kernel will open. fdPath resolves a directory file
// descriptor of the tracee. An empty result means the path is unknown.
func resolveExecPath(filename string, dirfd int, flags int, cwd string, fdPath func(int) (string, error)) string {
	if filename == "" {
		if flags&atEmptyPath == 0 || dirfd == atFDCWD {
			return ""
		}
		p, err := fdPath(dirfd)
		if err != nil {
			return ""
		}
		return p
	}
	if filepath.IsAbs(filename) {
		return filepath.Clean(filename)
	}
	base := cwd
	if dirfd != atFDCWD {
		p, err := fdPath(dirfd)
		if err != nil {
			return ""
		}
		base = p
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, filename)
}
