package timesync

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mrzor/exec-tracer/internal/procfs"
)

func TestConverter_TicksToWallClock(t *testing.T) {
	bootTime := time.Unix(1000000000, 0) // 2001-09-09 01:46:40 UTC
	converter := &Converter{
		bootTime: bootTime,
	}

	tests := []struct {
		name  string
		ticks uint64
		want  time.Time
	}{
		{
			name:  "zero ticks",
			ticks: 0,
			want:  bootTime,
		},
		{
			name:  "one second",
			ticks: 100,
			want:  bootTime.Add(1 * time.Second),
		},
		{
			name:  "one hour",
			ticks: 360_000,
			want:  bootTime.Add(1 * time.Hour),
		},
		{
			name:  "sub second",
			ticks: 12_345,
			want:  bootTime.Add(123*time.Second + 450*time.Millisecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.TicksToWallClock(tt.ticks)
			if !got.Equal(tt.want) {
				t.Errorf("TicksToWallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseBootTime(t *testing.T) {
	got, err := parseBootTime(strings.NewReader("cpu  1 2 3\nintr 5\nbtime 1700000000\nprocesses 9\n"))
	if err != nil {
		t.Fatalf("parseBootTime() error = %v", err)
	}
	if !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("parseBootTime() = %v", got)
	}

	if _, err := parseBootTime(strings.NewReader("cpu 1\n")); err == nil {
		t.Error("expected error when btime is missing")
	}
}

func TestNewConverter_FallbackOnMissingProc(t *testing.T) {
	converter := NewConverter(procfs.FS{Root: t.TempDir()})

	if converter.BootTime().After(time.Now()) {
		t.Error("fallback BootTime() is in the future")
	}
}

func TestConverter_ProcessStartTime(t *testing.T) {
	if _, err := os.Stat("/proc/stat"); err != nil {
		t.Skip("no procfs")
	}
	converter := NewConverter(procfs.Default())

	start, err := converter.ProcessStartTime(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessStartTime() error = %v", err)
	}

	// Boot time has one second resolution.
	if start.After(time.Now().Add(time.Second)) {
		t.Errorf("ProcessStartTime() = %v is in the future", start)
	}
	if start.Before(converter.BootTime()) {
		t.Errorf("ProcessStartTime() = %v is before boot", start)
	}
}
