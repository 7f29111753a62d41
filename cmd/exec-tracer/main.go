// exec-tracer runs a command under ptrace and reports every program it and
// its descendants execute, with environment changes and failures.
package main

import (
	"fmt"
	"os"
)

// Version information injected by GoReleaser at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// exitInternal is returned when tracing itself failed or the root's exit
// status is unknown.
const exitInternal = 125

func main() {
	var code int
	cmd := newRootCmd(&code)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitInternal)
	}
	os.Exit(code)
}
