//go:build linux && (amd64 || arm64)

package tracer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// The test binary doubles as a traced program for cases no shell utility
// produces reliably.
const (
	helperEnv        = "EXEC_TRACER_TEST_HELPER"
	helperThreadExec = "thread-exec"
	helperVfork      = "vfork"
)

func init() {
	// Keep the main goroutine on the thread group leader so that any other
	// goroutine runs on a different thread.
	if os.Getenv(helperEnv) != "" {
		runtime.LockOSThread()
	}
}

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case helperThreadExec:
		execFromThread()
	case helperVfork:
		// os/exec starts children with CLONE_VFORK.
		if err := exec.Command("/bin/true").Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// execFromThread replaces the process image from a thread other than the
// leader.
func execFromThread() {
	errc := make(chan error)
	go func() {
		errc <- syscall.Exec("/bin/true", []string{"/bin/true"}, os.Environ())
	}()
	fmt.Fprintln(os.Stderr, <-errc)
	os.Exit(1)
}

func helperTarget(t *testing.T, mode string) Target {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)
	return Target{
		Command: self,
		Args:    []string{"-test.run=^$"},
		Env:     append(os.Environ(), helperEnv+"="+mode),
	}
}

// withStoppedChild runs fn on a locked thread while /bin/true sits in its
// first ptrace-stop, traced by that thread.
func withStoppedChild(t *testing.T, fn func(pid int)) {
	t.Helper()
	requireTool(t, "/bin/true")
	skip := make(chan string, 1)

	go func() {
		// ptrace requests must come from the thread that started the tracee.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		cmd := exec.Command("/bin/true")
		cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
		if err := cmd.Start(); err != nil {
			skip <- err.Error()
			return
		}
		pid := cmd.Process.Pid
		var ws unix.WaitStatus
		if _, err := wait4(pid, &ws, unix.WALL); err != nil || !ws.Stopped() {
			_ = unix.Kill(pid, unix.SIGKILL)
			skip <- fmt.Sprintf("no initial stop: %v", err)
			return
		}
		fn(pid)
		skip <- ""
	}()

	select {
	case reason := <-skip:
		if reason != "" {
			t.Skipf("cannot start a traced child: %s", reason)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("traced child was left stopped")
	}
}
