// Package timesync converts kernel relative process timestamps to wall-clock
// time.
//
// /proc/<pid>/stat reports a process start time in clock ticks since boot.
// This package reads the system boot time from /proc/stat once and adds the
// offset, so that processes the tracer attaches to can be given their real
// start time instead of the moment they were first observed.
package timesync
