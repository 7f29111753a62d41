// Package event defines the records produced by the tracer.
//
// A TraceEvent is built exactly once by the supervisor and handed to output
// handlers by value. Exec events carry the ExecAttempt that produced them;
// lifecycle events (created, exited, warning) carry only ids and status.
//
// Strings read from tracee memory are kept as ByteString so that non UTF-8
// data survives until the presentation boundary.
package event
