package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// idExpression is a compiled id expression. A nil program means none was given.
type idExpression struct {
	flag    string
	program *vm.Program
}

func compileID(flag, exprStr string) (idExpression, error) {
	e := idExpression{flag: flag}
	if exprStr == "" {
		return e, nil
	}
	program, err := expr.Compile(exprStr, expr.Env(typeEnv()))
	if err != nil {
		return e, fmt.Errorf("failed to compile %s expression: %w", flag, err)
	}
	e.program = program
	return e, nil
}

// Configured reports whether an expression was given.
func (e idExpression) Configured() bool {
	return e.program != nil
}

// run evaluates the expression and renders its result as a string.
func (e idExpression) run(subject *Subject) (string, error) {
	if subject == nil {
		return "", fmt.Errorf("no exec data available")
	}
	output, err := expr.Run(e.program, subject.exprEnv())
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s expression: %w", e.flag, err)
	}
	return fmt.Sprint(output), nil
}

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	idExpression
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If exprStr is empty, the evaluator yields zero trace IDs.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	e, err := compileID("trace-id", exprStr)
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{e}, nil
}

// EvaluateAndValidate evaluates the trace-id expression and validates the result.
// Returns the trace ID, any warnings to attach to the span, and an error.
// A result that is not 32 hex characters is hashed into a trace ID.
func (e *TraceIDEvaluator) EvaluateAndValidate(subject *Subject) (trace.TraceID, []attribute.KeyValue, error) {
	if !e.Configured() {
		return trace.TraceID{}, nil, nil
	}
	result, err := e.run(subject)
	if err != nil {
		return trace.TraceID{}, nil, err
	}
	if len(result) == 32 {
		if traceID, err := trace.TraceIDFromHex(result); err == nil {
			return traceID, nil, nil
		}
	}

	hash := sha256.Sum256([]byte(result))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}
	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", result),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", result)),
	}
	return traceID, warnings, nil
}

// ParentIDEvaluator handles evaluation and validation of parent span ID expressions.
type ParentIDEvaluator struct {
	idExpression
}

// NewParentIDEvaluator creates a new parent ID evaluator.
// If exprStr is empty, the evaluator returns no parent.
func NewParentIDEvaluator(exprStr string) (*ParentIDEvaluator, error) {
	e, err := compileID("parent-id", exprStr)
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{e}, nil
}

// EvaluateAndValidate evaluates the parent-id expression and validates the result.
// An invalid result yields the zero span ID along with warning attributes.
func (e *ParentIDEvaluator) EvaluateAndValidate(subject *Subject) (trace.SpanID, []attribute.KeyValue, error) {
	if !e.Configured() {
		return trace.SpanID{}, nil, nil
	}
	result, err := e.run(subject)
	if err != nil {
		return trace.SpanID{}, nil, err
	}
	if len(result) == 16 {
		if spanID, err := trace.SpanIDFromHex(result); err == nil {
			return spanID, nil, nil
		}
	}

	warnings := []attribute.KeyValue{
		attribute.String("_parent_id_expr_result", result),
		attribute.String("_parent_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 16-char hex span ID, using null parent ID instead", result)),
	}
	return trace.SpanID{}, warnings, nil
}
