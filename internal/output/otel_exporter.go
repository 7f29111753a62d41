package output

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/exec-tracer/internal/attributes"
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/log"
)

// OTELOptions configures an OTELExporter. Every field is optional.
type OTELOptions struct {
	Attributes *attributes.Evaluator
	TraceID    *attributes.TraceIDEvaluator
	ParentID   *attributes.ParentIDEvaluator
	// PinTraceID makes new root spans use the given trace ID. It is called
	// when a trace ID expression yields an ID but no parent span.
	PinTraceID func(trace.TraceID)
	// BaseEnv is the environment assumed for processes whose parent was
	// not traced.
	BaseEnv envdiff.Environment
}

type processSpan struct {
	span     trace.Span
	ctx      context.Context
	subject  *attributes.Subject
	warnings []string
}

// OTELExporter turns the process tree into a span tree: one span per
// process from creation to exit, parented to its parent's span. Exec
// attempts are span events and the span is named after the last program
// the process executed.
type OTELExporter struct {
	tracer     trace.Tracer
	opts       OTELOptions
	envs       *envTracker
	spans      map[int]*processSpan
	remote     context.Context
	remoteAttr []attribute.KeyValue
	propagator propagation.TextMapPropagator
}

// NewOTELExporter creates an exporter emitting spans through tracer.
func NewOTELExporter(tracer trace.Tracer, opts OTELOptions) *OTELExporter {
	return &OTELExporter{
		tracer:     tracer,
		opts:       opts,
		envs:       newEnvTracker(opts.BaseEnv),
		spans:      make(map[int]*processSpan),
		propagator: propagation.TraceContext{},
	}
}

// HandleEvent updates the span tree with ev.
func (x *OTELExporter) HandleEvent(ev event.TraceEvent) error {
	env := x.envs.observe(ev)

	switch ev.Kind {
	case event.KindCreated:
		x.start(ev.PID, ev.PPID, ev.Time, &attributes.Subject{PID: ev.PID, Env: env.Map()})
	case event.KindExec:
		if ev.Exec == nil {
			return nil
		}
		subject := attributes.NewSubject(ev.PID, ev.Exec, env)
		ps := x.spans[ev.PID]
		if ps == nil {
			ps = x.start(ev.PID, ev.PPID, ev.Time, subject)
		}
		x.recordExec(ps, ev, subject)
	case event.KindWarning:
		if ps := x.spans[ev.PID]; ps != nil {
			ps.span.AddEvent("warning",
				trace.WithTimestamp(ev.Time),
				trace.WithAttributes(attribute.String("message", ev.Message)),
			)
			ps.warnings = append(ps.warnings, ev.Message)
		}
	case event.KindExited:
		if ps := x.spans[ev.PID]; ps != nil {
			delete(x.spans, ev.PID)
			x.end(ps, ev.Exit, ev.Time)
		}
	}
	return nil
}

// Close ends the spans of processes still running, such as those left
// behind by a detach.
func (x *OTELExporter) Close() error {
	now := time.Now()
	for pid, ps := range x.spans {
		ps.warnings = append(ps.warnings, "process still running when tracing stopped")
		x.end(ps, nil, now)
		delete(x.spans, pid)
	}
	return nil
}

func (x *OTELExporter) start(pid, ppid int, at time.Time, subject *attributes.Subject) *processSpan {
	var parent context.Context
	var extra []attribute.KeyValue
	if p, ok := x.spans[ppid]; ok {
		parent = p.ctx
	} else {
		parent = x.rootContext(subject)
		extra, x.remoteAttr = x.remoteAttr, nil
	}

	attrs := append([]attribute.KeyValue{
		semconv.ProcessPID(pid),
		semconv.ProcessParentPID(ppid),
	}, extra...)
	ctx, span := x.tracer.Start(parent, "process",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(at),
		trace.WithAttributes(attrs...),
	)
	ps := &processSpan{span: span, ctx: ctx}
	x.spans[pid] = ps
	return ps
}

// rootContext decides, once, the parent of spans whose process has no
// traced parent: the configured trace and parent IDs, else a W3C
// TRACEPARENT found in the environment, else nothing.
func (x *OTELExporter) rootContext(subject *attributes.Subject) context.Context {
	if x.remote != nil {
		return x.remote
	}
	ctx := context.Background()
	x.remote = ctx

	if x.opts.TraceID != nil && x.opts.TraceID.Configured() {
		tid, warnings, err := x.opts.TraceID.EvaluateAndValidate(subject)
		if err != nil {
			log.Warn("trace id expression failed", "error", err)
			return ctx
		}
		x.remoteAttr = append(x.remoteAttr, warnings...)

		var sid trace.SpanID
		if x.opts.ParentID != nil {
			var pwarnings []attribute.KeyValue
			sid, pwarnings, err = x.opts.ParentID.EvaluateAndValidate(subject)
			if err != nil {
				log.Warn("parent id expression failed", "error", err)
			}
			x.remoteAttr = append(x.remoteAttr, pwarnings...)
		}

		if sid.IsValid() {
			x.remote = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    tid,
				SpanID:     sid,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			}))
		} else if x.opts.PinTraceID != nil {
			x.opts.PinTraceID(tid)
		} else {
			log.Debug("trace id has no parent span and cannot be pinned", "trace_id", tid.String())
		}
		return x.remote
	}

	if subject != nil {
		if tp := subject.Env["TRACEPARENT"]; tp != "" {
			carrier := propagation.MapCarrier{"traceparent": tp}
			if ts := subject.Env["TRACESTATE"]; ts != "" {
				carrier["tracestate"] = ts
			}
			x.remote = x.propagator.Extract(ctx, carrier)
			if !trace.SpanContextFromContext(x.remote).IsValid() {
				log.Debug("ignoring malformed TRACEPARENT", "value", tp)
			}
		}
	}
	return x.remote
}

func (x *OTELExporter) recordExec(ps *processSpan, ev event.TraceEvent, subject *attributes.Subject) {
	a := ev.Exec
	attrs := []attribute.KeyValue{
		attribute.String("exec.syscall", a.Syscall),
		attribute.String("exec.filename", a.Filename.Lossy()),
		attribute.StringSlice("exec.argv", event.Strings(a.Argv)),
		attribute.String("exec.outcome", string(a.Outcome.Kind)),
	}
	if a.Outcome.Kind == event.OutcomeFailure {
		attrs = append(attrs, attribute.Int("exec.errno", a.Outcome.Errno))
		if a.Outcome.ErrnoName != "" {
			attrs = append(attrs, attribute.String("exec.errno_name", a.Outcome.ErrnoName))
		}
	}
	if len(a.EnvDiff) > 0 {
		attrs = append(attrs, attribute.Int("exec.env_changes", len(a.EnvDiff)))
	}
	ps.span.AddEvent("exec", trace.WithTimestamp(ev.Time), trace.WithAttributes(attrs...))

	reads := []struct {
		name string
		rs   event.ReadStatus
	}{{"filename", a.FilenameRead}, {"argv", a.ArgvRead}, {"envp", a.EnvpRead}}
	for _, r := range reads {
		if !r.rs.OK() {
			ps.warnings = append(ps.warnings, fmt.Sprintf("%s not fully read: %s", r.name, readIssue(r.rs)))
		}
	}

	if a.Outcome.Kind != event.OutcomeSuccess {
		return
	}
	ps.subject = subject
	if subject.Filename != "" {
		ps.span.SetName(filepath.Base(subject.Filename))
	}
	ps.span.SetAttributes(
		semconv.ProcessExecutablePath(subject.Filename),
		semconv.ProcessCommandArgs(subject.Args...),
	)
	if a.Comm != "" {
		ps.span.SetAttributes(semconv.ProcessCommand(a.Comm))
	}
}

func (x *OTELExporter) end(ps *processSpan, exit *event.ExitStatus, at time.Time) {
	if x.opts.Attributes != nil && ps.subject != nil {
		custom, _ := x.opts.Attributes.EvaluateCustomAttributes(ps.subject) //nolint:errcheck // Failures are logged per attribute
		ps.span.SetAttributes(custom...)
	}
	for i, w := range ps.warnings {
		ps.span.SetAttributes(attribute.String(fmt.Sprintf("_tracing_warning_%d", i), w))
	}

	switch {
	case exit == nil:
	case exit.Unknown:
		ps.span.SetStatus(codes.Error, "exit status unknown")
	default:
		ps.span.SetAttributes(
			attribute.Int("process.exit.code", exit.ShellCode()),
			attribute.String("process.exit.status", exit.String()),
		)
		if exit.ShellCode() != 0 {
			ps.span.SetStatus(codes.Error, exit.String())
		} else {
			ps.span.SetStatus(codes.Ok, "")
		}
	}
	ps.span.End(trace.WithTimestamp(at))
}

func readIssue(rs event.ReadStatus) string {
	switch {
	case rs.Reason != "":
		return rs.Reason
	case rs.Unreadable:
		return "unreadable"
	default:
		return "truncated"
	}
}
