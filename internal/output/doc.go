// Package output renders trace events.
//
// Every renderer implements Handler and is driven by the event stream's
// consumer goroutine, so none of them needs locking:
//
//   - TextPrinter: one human readable line per exec, optionally colored
//   - JSONPrinter: JSON Lines, one object per event
//   - AuditLog: rotated JSON log of every event
//   - OTELExporter: one span per traced process, parented like the
//     process tree
//
// Renderers that evaluate attribute expressions rebuild each process's
// environment from the events themselves: a child starts with its
// parent's environment and every successful exec applies its diff (or
// replaces it with the full envp when that was captured).
package output
