//go:build linux && (amd64 || arm64)

package tracer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/interpreter"
	"github.com/mrzor/exec-tracer/internal/log"
	"github.com/mrzor/exec-tracer/internal/memreader"
	"github.com/mrzor/exec-tracer/internal/proctable"
	"github.com/mrzor/exec-tracer/internal/timesync"
)

var errNoChildren = errors.New("no tracees left")

// Supervisor runs one trace session. It is not reusable.
type Supervisor struct {
	opts   Options
	out    Emitter
	table  *proctable.Table
	reader *memreader.Reader
	clock  *timesync.Converter
	logger *slog.Logger

	seq        uint64
	rootID     int
	rootStatus event.ExitStatus
	rootDone   bool
}

// NewSupervisor creates a Supervisor that sends events to out.
func NewSupervisor(opts Options, out Emitter) *Supervisor {
	opts.setDefaults()
	mem := opts.Memory
	if mem == nil {
		mem = memreader.NewProcessVM()
	}
	return &Supervisor{
		opts:   opts,
		out:    out,
		table:  proctable.New(),
		reader: memreader.New(mem),
		clock:  timesync.NewConverter(opts.Proc),
		logger: log.With("component", "tracer"),
	}
}

// Run traces target until every tracee has exited and returns the root's
// exit status. Cancelling ctx detaches from (or kills, with KillOnExit) all
// live tracees and returns ctx's error.
func (s *Supervisor) Run(ctx context.Context, target Target) (event.ExitStatus, error) {
	type result struct {
		status event.ExitStatus
		err    error
	}
	done := make(chan result, 1)

	// ptrace requests are only accepted from the thread that attached, so
	// the whole session runs on one locked OS thread.
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		status, err := s.run(ctx, target)
		done <- result{status, err}
	}()

	r := <-done
	return r.status, r.err
}

func (s *Supervisor) run(ctx context.Context, target Target) (event.ExitStatus, error) {
	checkKernel()

	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh, unix.SIGCHLD)
	defer signal.Stop(sigCh)

	var err error
	if target.PID > 0 {
		err = s.attach(target.PID)
	} else {
		err = s.spawn(target)
	}
	if err != nil {
		return event.ExitStatus{Unknown: true}, err
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for s.table.Len() > 0 {
		if err := s.drain(); err != nil {
			if errors.Is(err, errNoChildren) {
				s.dropAll("tracee vanished without exit notification")
				break
			}
			return s.status(), err
		}
		if s.table.Len() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.abandon()
			return s.status(), ctx.Err()
		case <-sigCh:
		case <-ticker.C:
		}
	}
	return s.status(), nil
}

func (s *Supervisor) status() event.ExitStatus {
	if !s.rootDone {
		return event.ExitStatus{Unknown: true}
	}
	return s.rootStatus
}

// spawn starts the root and seizes it. os/exec can only start a child
// under PTRACE_TRACEME, which cannot keep group-stops, so the root is
// handed over: stopped at its first stop, detached, seized while stopped
// and continued. The Go runtime performs the root's execve before control
// returns here, so that exec is reported from what was handed to the
// kernel rather than from a syscall stop.
func (s *Supervisor) spawn(target Target) error {
	//nolint:gosec // Launching the traced command is the point
	cmd := exec.Command(target.Command, target.Args...)
	cmd.Env = target.Env
	cmd.Dir = target.Dir
	cmd.Stdin = target.Stdin
	cmd.Stdout = target.Stdout
	cmd.Stderr = target.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return &Error{Op: "spawn", Err: err}
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := wait4(pid, &ws, unix.WALL); err != nil {
		return &Error{Op: "wait for initial stop", PID: pid, Err: err}
	}
	if !ws.Stopped() {
		return &Error{Op: "wait for initial stop", PID: pid, Err: fmt.Errorf("root did not stop: %s", exitStatus(ws))}
	}
	if err := handOver(pid, traceOptions(s.opts.KillOnExit)); err != nil {
		_ = unix.Kill(pid, unix.SIGKILL)  //nolint:errcheck // Best-effort cleanup in error path
		_, _ = wait4(pid, &ws, unix.WALL) //nolint:errcheck // Reaping only
		return &Error{Op: "seize", PID: pid, Err: err}
	}

	root := &proctable.Tracee{
		ID:             pid,
		Root:           true,
		State:          proctable.Running,
		Announced:      true,
		SawInitialStop: true,
		LastEnv:        envdiff.Parse(os.Environ()),
	}
	s.table.Add(root)
	s.rootID = pid
	s.logger.Debug("spawned root", "pid", pid, "path", cmd.Path)

	// The root's next stop is the group-stop left by the hand-over, and the
	// loop resumes it once the SIGCONT sent by handOver ends it.
	s.conclude(root, s.rootAttempt(cmd))
	return nil
}

// handOver moves a PTRACE_TRACEME child in a ptrace-stop to PTRACE_SEIZE.
func handOver(pid int, options int) error {
	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	// The pending SIGSTOP takes effect as soon as the child is let go.
	if err := detach(pid, 0); err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	var ws unix.WaitStatus
	if _, err := wait4(pid, &ws, unix.WUNTRACED); err != nil {
		return fmt.Errorf("wait for stop: %w", err)
	}
	if !ws.Stopped() {
		return fmt.Errorf("root did not stop: %s", exitStatus(ws))
	}
	if err := seize(pid, options); err != nil {
		return err
	}
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	return nil
}

func (s *Supervisor) rootAttempt(cmd *exec.Cmd) *event.ExecAttempt {
	cwd := cmd.Dir
	if cwd == "" {
		cwd, _ = os.Getwd() //nolint:errcheck // Unknown cwd leaves the path unresolved
	}
	resolved := cmd.Path
	if !filepath.IsAbs(resolved) && cwd != "" {
		resolved = filepath.Join(cwd, resolved)
	}

	a := &event.ExecAttempt{
		Syscall:      "execve",
		Filename:     event.ByteString(cmd.Path),
		ResolvedPath: resolved,
		Argv:         event.ByteStrings(cmd.Args),
		Envp:         event.ByteStrings(cmd.Environ()),
		Cwd:          event.ByteString(cwd),
		Outcome:      event.Outcome{Kind: event.OutcomeSuccess},
		StartedAt:    time.Now(),
	}
	if comm, err := s.opts.Proc.Comm(os.Getpid()); err == nil {
		a.Comm = comm
	}
	if s.opts.Fields.ShowInterpreter {
		a.Interpreters = interpreter.ResolveChain(resolved, interpreter.MaxDepth)
	}
	return a
}

// attach seizes every thread of an existing process. Each thread is
// interrupted so that the loop gets a stop to resume it from with
// syscall tracing on.
func (s *Supervisor) attach(pid int) error {
	if st, err := s.opts.Proc.Status(pid); err == nil && st.TracerPid != 0 {
		return &Error{Op: "attach", PID: pid, Err: fmt.Errorf("already traced by pid %d", st.TracerPid)}
	}
	tids, err := s.opts.Proc.Tasks(pid)
	if err != nil {
		return &Error{Op: "attach", PID: pid, Err: err}
	}
	var env envdiff.Environment
	if data, err := s.opts.Proc.Environ(pid); err == nil {
		env = envdiff.ParseNul(data)
	}
	ppid := 0
	if st, err := s.opts.Proc.Stat(pid); err == nil {
		ppid = st.PPID
	}
	started, _ := s.clock.ProcessStartTime(pid) //nolint:errcheck // Zero time falls back to now

	for _, tid := range tids {
		if err := seize(tid, traceOptions(s.opts.KillOnExit)); err != nil {
			if tid == pid {
				return &Error{Op: "attach", PID: tid, Err: err}
			}
			s.logger.Debug("attach to thread failed", "pid", tid, "error", err)
			continue
		}
		tr := &proctable.Tracee{
			ID:             tid,
			ParentID:       ppid,
			Root:           tid == pid,
			State:          proctable.Attaching,
			Announced:      true,
			SawInitialStop: true,
			LastEnv:        env,
		}
		s.table.Add(tr)
		s.emit(event.TraceEvent{Kind: event.KindCreated, PID: tid, PPID: ppid, Time: started})

		if err := unix.PtraceInterrupt(tid); err != nil {
			if tid == pid {
				return &Error{Op: "interrupt", PID: tid, Err: err}
			}
			s.lost(tr, err)
		}
	}
	s.rootID = pid
	s.logger.Debug("attached", "pid", pid, "threads", len(tids))
	return nil
}

func wait4(pid int, ws *unix.WaitStatus, options int) (int, error) {
	for {
		wpid, err := unix.Wait4(pid, ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return wpid, err
	}
}

// drain handles every pending notification without blocking.
func (s *Supervisor) drain() error {
	for {
		var ws unix.WaitStatus
		pid, err := wait4(-1, &ws, unix.WALL|unix.WNOHANG)
		if errors.Is(err, unix.ECHILD) {
			return errNoChildren
		}
		if err != nil {
			return fmt.Errorf("wait4: %w", err)
		}
		if pid <= 0 {
			return nil
		}
		s.handle(pid, ws)
	}
}

func (s *Supervisor) handle(pid int, ws unix.WaitStatus) {
	switch {
	case ws.Exited() || ws.Signaled():
		s.handleGone(pid, ws)
	case ws.Stopped():
		s.handleStop(pid, ws)
	}
}

func (s *Supervisor) handleStop(pid int, ws unix.WaitStatus) {
	sig := ws.StopSignal()
	cause := stopEvent(ws)
	tr := s.table.Get(pid)
	if tr == nil {
		if cause == unix.PTRACE_EVENT_STOP && sig == unix.SIGSTOP {
			// A new child reporting before its parent's creation event.
			s.table.Add(&proctable.Tracee{
				ID:             pid,
				State:          proctable.Attaching,
				AwaitingParent: true,
				SawInitialStop: true,
			})
			s.logger.Debug("holding child until parent event", "pid", pid)
			return
		}
		tr, _ = s.table.GetOrAdopt(pid)
		if st, err := s.opts.Proc.Status(pid); err == nil {
			tr.ParentID = st.PPid
		}
		tr.Announced = true
		s.logger.Debug("adopted unknown tracee", "pid", pid, "signal", unix.SignalName(sig))
		s.emit(event.TraceEvent{Kind: event.KindCreated, PID: pid, PPID: tr.ParentID})
	}

	switch {
	case sig == syscallTrap:
		s.handleSyscall(tr)
	case cause == unix.PTRACE_EVENT_STOP:
		s.handleEventStop(tr, sig)
	case sig == unix.SIGTRAP && cause > 0:
		s.handleTraceEvent(tr, cause)
	default:
		// Signal-delivery-stop: the signal goes through unchanged.
		s.resume(tr, sig)
	}
}

// handleEventStop handles PTRACE_EVENT_STOP, which is a new child's first
// stop, an interrupt, a group-stop or the end of one.
func (s *Supervisor) handleEventStop(tr *proctable.Tracee, sig unix.Signal) {
	switch {
	case !tr.SawInitialStop:
		tr.SawInitialStop = true
		s.resume(tr, 0)
	case isStopSignal(sig):
		if err := listen(tr.ID); err != nil {
			s.lost(tr, err)
			return
		}
		tr.State = proctable.GroupStopped
		s.logger.Debug("group-stop", "pid", tr.ID, "signal", unix.SignalName(sig))
	default:
		s.resume(tr, 0)
	}
}

func (s *Supervisor) handleTraceEvent(tr *proctable.Tracee, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		s.handleNewChild(tr)
	case unix.PTRACE_EVENT_EXEC:
		s.handleExec(tr)
	case unix.PTRACE_EVENT_EXIT:
		if msg, err := unix.PtraceGetEventMsg(tr.ID); err == nil {
			//nolint:gosec // The message is a wait status
			status := exitStatus(unix.WaitStatus(msg))
			tr.Exit = &status
		}
		s.resume(tr, 0)
	default:
		s.resume(tr, 0)
	}
}

func (s *Supervisor) handleNewChild(parent *proctable.Tracee) {
	msg, err := unix.PtraceGetEventMsg(parent.ID)
	if err != nil {
		s.lost(parent, err)
		return
	}
	childID := int(msg) //nolint:gosec // Message is a pid

	child := s.table.Get(childID)
	if child == nil {
		child = &proctable.Tracee{ID: childID, State: proctable.Attaching}
		s.table.Add(child)
	}
	child.ParentID = parent.ID
	child.LastEnv = parent.LastEnv
	child.Announced = true
	s.emit(event.TraceEvent{Kind: event.KindCreated, PID: childID, PPID: parent.ID})

	if child.AwaitingParent {
		child.AwaitingParent = false
		s.resume(child, 0)
	}
	s.resume(parent, 0)
}

func (s *Supervisor) handleSyscall(tr *proctable.Tracee) {
	regs, err := readRegs(tr.ID)
	if err != nil {
		s.lost(tr, err)
		return
	}

	if tr.State != proctable.InSyscallEntry && !notEntry(regs) {
		tr.State = proctable.InSyscallEntry
		if isExecSyscall(regs.nr) {
			tr.Pending = s.capture(tr, regs)
		}
		s.resume(tr, 0)
		return
	}

	// The tracee stays in InSyscallExit until resume moves it on.
	tr.State = proctable.InSyscallExit
	if a := tr.Pending; a != nil {
		tr.Pending = nil
		if regs.ret < 0 {
			errno := int(-regs.ret)
			a.Outcome = event.Outcome{Kind: event.OutcomeFailure, Errno: errno, ErrnoName: errnoName(errno)}
		} else {
			a.Outcome = event.Outcome{Kind: event.OutcomeSuccess}
		}
		s.conclude(tr, a)
	}
	s.resume(tr, 0)
}

func isExecSyscall(nr uint64) bool {
	return nr == unix.SYS_EXECVE || nr == unix.SYS_EXECVEAT
}

// capture reads the arguments of an exec call at syscall entry.
func (s *Supervisor) capture(tr *proctable.Tracee, regs syscallRegs) *event.ExecAttempt {
	a := &event.ExecAttempt{StartedAt: time.Now()}

	dirfd, flags := atFDCWD, 0
	var filenameAddr, argvAddr, envpAddr uintptr
	if regs.nr == unix.SYS_EXECVEAT {
		a.Syscall = "execveat"
		dirfd = int(int32(regs.args[0])) //nolint:gosec // dirfd is an int in the ABI
		filenameAddr = uintptr(regs.args[1])
		argvAddr = uintptr(regs.args[2])
		envpAddr = uintptr(regs.args[3])
		flags = int(regs.args[4]) //nolint:gosec // flags is an int in the ABI
	} else {
		a.Syscall = "execve"
		filenameAddr = uintptr(regs.args[0])
		argvAddr = uintptr(regs.args[1])
		envpAddr = uintptr(regs.args[2])
	}

	filename, err := s.reader.ReadCString(tr.ID, filenameAddr)
	a.Filename, a.FilenameRead = event.ByteString(filename), readStatus(err)
	argv, err := s.reader.ReadStringArray(tr.ID, argvAddr)
	a.Argv, a.ArgvRead = event.ByteStrings(argv), readStatus(err)
	envp, err := s.reader.ReadStringArray(tr.ID, envpAddr)
	a.Envp, a.EnvpRead = event.ByteStrings(envp), readStatus(err)
	if !a.FilenameRead.OK() || !a.ArgvRead.OK() || !a.EnvpRead.OK() {
		s.logger.Debug("incomplete exec arguments", "pid", tr.ID,
			"filename", a.FilenameRead.Reason, "argv", a.ArgvRead.Reason, "envp", a.EnvpRead.Reason)
	}

	cwd, err := s.opts.Proc.Cwd(tr.ID)
	if err != nil {
		s.logger.Debug("reading cwd", "pid", tr.ID, "error", err)
	}
	a.Cwd = event.ByteString(cwd)
	if comm, err := s.opts.Proc.Comm(tr.ID); err == nil {
		a.Comm = comm
	}

	a.ResolvedPath = resolveExecPath(filename, dirfd, flags, cwd, func(fd int) (string, error) {
		return s.opts.Proc.FdPath(tr.ID, fd)
	})
	if s.opts.Fields.ShowInterpreter {
		if a.ResolvedPath == "" {
			a.Interpreters = []interpreter.Result{{Kind: interpreter.KindError, Reason: "path unresolved"}}
		} else {
			a.Interpreters = interpreter.ResolveChain(a.ResolvedPath, interpreter.MaxDepth)
		}
	}
	return a
}

func (s *Supervisor) handleExec(tr *proctable.Tracee) {
	// The event message is the id the exec'ing thread had before it took
	// over the thread group leader's id.
	if msg, err := unix.PtraceGetEventMsg(tr.ID); err == nil {
		if former := int(msg); former != tr.ID { //nolint:gosec // Message is a pid
			s.logger.Debug("exec from non-leader thread", "pid", tr.ID, "former", former)
			tr = s.table.Migrate(former, tr.ID)
		}
	}

	a := tr.Pending
	tr.Pending = nil
	if a == nil {
		a = s.attemptFromProc(tr)
	}
	a.Outcome = event.Outcome{Kind: event.OutcomeSuccess}
	s.conclude(tr, a)
	s.resume(tr, 0)
}

// attemptFromProc rebuilds an attempt whose syscall entry was never seen,
// such as an exec already in flight when the tracer attached.
func (s *Supervisor) attemptFromProc(tr *proctable.Tracee) *event.ExecAttempt {
	a := &event.ExecAttempt{Syscall: "execve", StartedAt: time.Now()}
	if exe, err := s.opts.Proc.Exe(tr.ID); err == nil {
		a.Filename = event.ByteString(exe)
		a.ResolvedPath = exe
	} else {
		a.FilenameRead = readStatus(err)
	}
	if argv, err := s.opts.Proc.Cmdline(tr.ID); err == nil {
		a.Argv = event.ByteStrings(argv)
	} else {
		a.ArgvRead = readStatus(err)
	}
	if data, err := s.opts.Proc.Environ(tr.ID); err == nil {
		a.Envp = event.ByteStrings(envdiff.ParseNul(data).Strings())
	} else {
		a.EnvpRead = readStatus(err)
	}
	if cwd, err := s.opts.Proc.Cwd(tr.ID); err == nil {
		a.Cwd = event.ByteString(cwd)
	}
	if s.opts.Fields.ShowInterpreter && a.ResolvedPath != "" {
		a.Interpreters = interpreter.ResolveChain(a.ResolvedPath, interpreter.MaxDepth)
	}
	return a
}

// conclude turns a finished attempt into an exec event.
func (s *Supervisor) conclude(tr *proctable.Tracee, a *event.ExecAttempt) {
	env := a.Environment()
	if a.Outcome.Kind == event.OutcomeSuccess && !a.EnvpRead.OK() {
		// The new image's initial environment is exactly what execve got.
		if data, err := s.opts.Proc.Environ(tr.ID); err == nil {
			env = envdiff.ParseNul(data)
		}
	}
	if s.opts.Fields.DiffEnv {
		a.EnvDiff = envdiff.Compute(tr.LastEnv, env)
	}
	if a.Outcome.Kind == event.OutcomeSuccess {
		tr.LastEnv = env
	}

	s.logger.Debug("exec concluded", "pid", tr.ID, "state", tr.State.String(), "outcome", a.Outcome.Kind)
	if s.opts.Fields.SuccessfulOnly && a.Outcome.Kind != event.OutcomeSuccess {
		return
	}
	s.opts.Fields.Apply(a)
	s.emit(event.TraceEvent{Kind: event.KindExec, PID: tr.ID, PPID: tr.ParentID, Exec: a})
}

func (s *Supervisor) handleGone(pid int, ws unix.WaitStatus) {
	tr := s.table.Remove(pid)
	if tr == nil {
		return
	}
	status := exitStatus(ws)
	s.finish(tr, status)
}

// finish emits the last events of a tracee that left the table.
func (s *Supervisor) finish(tr *proctable.Tracee, status event.ExitStatus) {
	if a := tr.Pending; a != nil {
		tr.Pending = nil
		a.Outcome = event.Outcome{Kind: event.OutcomeUnknown}
		s.conclude(tr, a)
	}
	s.emit(event.TraceEvent{Kind: event.KindExited, PID: tr.ID, PPID: tr.ParentID, Exit: &status})
	if tr.Root || tr.ID == s.rootID {
		s.rootStatus = status
		s.rootDone = true
	}
}

// lost drops a tracee that disappeared under us, or that ptrace refuses
// to serve any more. The latter is detached so it is not left stopped.
func (s *Supervisor) lost(tr *proctable.Tracee, err error) {
	if !isGone(err) {
		s.logger.Warn("ptrace request failed", "pid", tr.ID, "error", err)
		if derr := detach(tr.ID, 0); derr != nil && !isGone(derr) {
			s.logger.Debug("detach after failure", "pid", tr.ID, "error", derr)
		}
	}
	s.emit(event.TraceEvent{
		Kind:    event.KindWarning,
		PID:     tr.ID,
		PPID:    tr.ParentID,
		Message: fmt.Sprintf("lost tracee: %v", err),
	})
	s.table.Remove(tr.ID)
	status := event.ExitStatus{Unknown: true}
	if tr.Exit != nil {
		status = *tr.Exit
	}
	s.finish(tr, status)
}

func (s *Supervisor) dropAll(reason string) {
	for _, id := range s.table.IDs() {
		tr := s.table.Remove(id)
		s.emit(event.TraceEvent{Kind: event.KindWarning, PID: id, PPID: tr.ParentID, Message: reason})
		s.finish(tr, event.ExitStatus{Unknown: true})
	}
}

func (s *Supervisor) resume(tr *proctable.Tracee, sig unix.Signal) {
	if err := unix.PtraceSyscall(tr.ID, int(sig)); err != nil {
		s.lost(tr, err)
		return
	}
	tr.Resumed()
}

func (s *Supervisor) emit(ev event.TraceEvent) {
	s.seq++
	ev.Seq = s.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.out.Emit(ev)
}
