// Package procfs reads per-process information from /proc.
package procfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultRoot is where procfs is normally mounted.
const DefaultRoot = "/proc"

// FS reads from a procfs mount.
type FS struct {
	Root string
}

// Default returns an FS rooted at /proc.
func Default() FS {
	return FS{Root: DefaultRoot}
}

func (fs FS) path(pid int, elem ...string) string {
	return filepath.Join(append([]string{fs.Root, strconv.Itoa(pid)}, elem...)...)
}

// Comm returns the task's command name without the trailing newline.
func (fs FS) Comm(pid int) (string, error) {
	data, err := os.ReadFile(fs.path(pid, "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// Cwd returns the task's working directory.
func (fs FS) Cwd(pid int) (string, error) {
	return os.Readlink(fs.path(pid, "cwd"))
}

// Exe returns the path of the task's executable.
func (fs FS) Exe(pid int) (string, error) {
	return os.Readlink(fs.path(pid, "exe"))
}

// FdPath returns the path an open descriptor of the task refers to.
func (fs FS) FdPath(pid, fd int) (string, error) {
	return os.Readlink(fs.path(pid, "fd", strconv.Itoa(fd)))
}

// Environ returns the raw NUL separated initial environment of the task.
func (fs FS) Environ(pid int) ([]byte, error) {
	return os.ReadFile(fs.path(pid, "environ"))
}

// Cmdline returns the task's argument vector.
func (fs FS) Cmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(fs.path(pid, "cmdline"))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) == 0 {
		return []string{}, nil
	}
	parts := bytes.Split(data, []byte{0})
	args := make([]string, len(parts))
	for i, p := range parts {
		args[i] = string(p)
	}
	return args, nil
}

// Tasks returns the thread ids of a process in ascending order.
func (fs FS) Tasks(pid int) ([]int, error) {
	entries, err := os.ReadDir(fs.path(pid, "task"))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids, nil
}

// Stat holds the fields of /proc/<pid>/stat the tracer uses.
type Stat struct {
	PID        int
	Comm       string
	State      byte
	PPID       int
	StartTicks uint64
}

// Stat parses /proc/<pid>/stat. The comm field may contain spaces and
// parentheses, so parsing anchors on the last ')'.
func (fs FS) Stat(pid int) (Stat, error) {
	data, err := os.ReadFile(fs.path(pid, "stat"))
	if err != nil {
		return Stat{}, err
	}
	return ParseStat(data)
}

// ParseStat parses the content of a stat file.
func ParseStat(data []byte) (Stat, error) {
	open := bytes.IndexByte(data, '(')
	closing := bytes.LastIndexByte(data, ')')
	if open < 0 || closing < open {
		return Stat{}, errors.New("malformed stat: no comm field")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data[:open])))
	if err != nil {
		return Stat{}, fmt.Errorf("malformed stat pid: %w", err)
	}
	rest := strings.Fields(string(data[closing+1:]))
	// rest[0] is field 3 (state); starttime is field 22.
	if len(rest) < 20 {
		return Stat{}, fmt.Errorf("malformed stat: %d fields after comm", len(rest))
	}
	ppid, err := strconv.Atoi(rest[1])
	if err != nil {
		return Stat{}, fmt.Errorf("malformed stat ppid: %w", err)
	}
	start, err := strconv.ParseUint(rest[19], 10, 64)
	if err != nil {
		return Stat{}, fmt.Errorf("malformed stat starttime: %w", err)
	}
	return Stat{
		PID:        pid,
		Comm:       string(data[open+1 : closing]),
		State:      rest[0][0],
		PPID:       ppid,
		StartTicks: start,
	}, nil
}

// Status holds the fields of /proc/<pid>/status the tracer uses.
type Status struct {
	Name      string
	Tgid      int
	PPid      int
	TracerPid int
}

// Status parses /proc/<pid>/status.
func (fs FS) Status(pid int) (Status, error) {
	data, err := os.ReadFile(fs.path(pid, "status"))
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(data), nil
}

// ParseStatus parses the content of a status file. Unknown or malformed
// lines are ignored.
func ParseStatus(data []byte) Status {
	var st Status
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			st.Name = value
		case "Tgid":
			st.Tgid, _ = strconv.Atoi(value) //nolint:errcheck // Zero on malformed input
		case "PPid":
			st.PPid, _ = strconv.Atoi(value) //nolint:errcheck // Zero on malformed input
		case "TracerPid":
			st.TracerPid, _ = strconv.Atoi(value) //nolint:errcheck // Zero on malformed input
		}
	}
	return st
}
