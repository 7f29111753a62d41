// Package attributes provides expression evaluation and validation for custom
// span attributes, trace IDs, and parent span IDs.
//
// Expressions are evaluated against a Subject: the last program a tracee
// executed (filename, argv, environment, working directory) using the expr
// language. Available variables:
//
//	env       map[string]string   environment of the exec
//	args      []string            argv
//	cmdline   string              argv joined with spaces
//	filename  string              path passed to exec
//	cwd       string              working directory at exec time
//	comm      string              command name before the exec
//	pid       int                 tracee id
//
// Three evaluators:
//   - Evaluator: Evaluates custom attribute expressions
//   - TraceIDEvaluator: Evaluates and validates trace ID expressions (32 hex chars)
//   - ParentIDEvaluator: Evaluates and validates parent span ID expressions (16 hex chars)
//
// Invalid trace IDs are automatically hashed with SHA-256 to produce valid IDs.
// Invalid parent IDs result in a null parent (zero span ID).
package attributes
