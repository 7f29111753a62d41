package timesync

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mrzor/exec-tracer/internal/procfs"
)

// ClockTicks is USER_HZ, the unit of start times in /proc/<pid>/stat. It is
// 100 on every Linux architecture the tracer supports.
const ClockTicks = 100

// Converter handles conversion from boot relative timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
	proc     procfs.FS
}

// NewConverter creates a new time converter.
// It reads the system boot time from /proc/stat.
// If reading fails, it uses a conservative fallback estimate.
func NewConverter(proc procfs.FS) *Converter {
	bootTime, err := readBootTime(proc.Root + "/stat")
	if err != nil {
		bootTime = time.Now().Add(-time.Hour)
	}
	return &Converter{bootTime: bootTime, proc: proc}
}

// TicksToWallClock converts clock ticks since boot to wall-clock time.
func (c *Converter) TicksToWallClock(ticks uint64) time.Time {
	//nolint:gosec // tick counts stay far below the int64 range
	return c.bootTime.Add(time.Duration(ticks) * time.Second / ClockTicks)
}

// ProcessStartTime returns when pid was started.
func (c *Converter) ProcessStartTime(pid int) (time.Time, error) {
	st, err := c.proc.Stat(pid)
	if err != nil {
		return time.Time{}, err
	}
	return c.TicksToWallClock(st.StartTicks), nil
}

// BootTime returns the system boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

func readBootTime(path string) (time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()
	return parseBootTime(file)
}

func parseBootTime(r io.Reader) (time.Time, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		bootTimeSec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
		}
		return time.Unix(bootTimeSec, 0), nil
	}

	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("error reading /proc/stat: %w", err)
	}

	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}
