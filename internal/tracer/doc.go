// Package tracer runs a ptrace session over a process tree and reports every
// execve/execveat attempt made inside it.
//
// The Supervisor owns the whole session: it spawns or attaches to the root,
// drives the wait loop on a single locked OS thread, keeps the process table,
// reads exec arguments out of stopped tracees and hands finished
// event.TraceEvent values to an Emitter.
//
// Tracees are seized (PTRACE_SEIZE) rather than attached, so group-stops
// are told apart from signal-delivery stops and kept with PTRACE_LISTEN.
//
// Stop classification:
//
//	wait4 status                          handling
//	─────────────────────────────────────────────────────────────────────
//	stopped, SIGTRAP|0x80                 syscall entry or exit
//	stopped, SIGTRAP, PTRACE_EVENT_EXEC   exec succeeded
//	stopped, SIGTRAP, EVENT_FORK/CLONE    new child, emit created
//	stopped, SIGTRAP, PTRACE_EVENT_EXIT   record exit status
//	stopped, PTRACE_EVENT_STOP (first)    new child starts running
//	stopped, PTRACE_EVENT_STOP, SIGSTOP   group-stop, PTRACE_LISTEN
//	stopped, PTRACE_EVENT_STOP, SIGTRAP   interrupt or SIGCONT, resumed
//	stopped, other signal                 re-injected on resume
//	exited / killed                       emit exited, drop from table
//
// Each stop is followed by exactly one resume or listen, except for a new
// child whose initial stop is seen before its parent's creation event: it
// stays stopped until that event has been processed.
package tracer
