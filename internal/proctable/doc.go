// Package proctable tracks every live tracee of a trace session.
//
// The table is owned by the supervisor's event loop goroutine and has no
// locking; nothing else may touch it.
//
// Tracee state machine:
//
//	          creation event / initial stop
//	┌───────────┐                ┌─────────┐
//	│ Attaching │ ─────────────► │ Running │ ◄──────────────┐
//	└───────────┘                └────┬────┘                │
//	                                  │ syscall entry       │ syscall exit
//	                                  ▼                     │
//	                        ┌────────────────┐   ┌───────────────┐
//	                        │ InSyscallEntry │ ─►│ InSyscallExit │
//	                        └────────────────┘   └───────────────┘
//	                                  │
//	                                  │ exit notification (from any state)
//	                                  ▼
//	                             ┌────────┐
//	                             │ Exited │  (removed from the table)
//	                             └────────┘
package proctable
