package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/exec-tracer/internal/attributes"
	"github.com/mrzor/exec-tracer/internal/config"
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

func newTestExporter(t *testing.T, opts OTELOptions) (*OTELExporter, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return NewOTELExporter(tp.Tracer("test"), opts), rec
}

func spanByName(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no span named %q", name)
	return nil
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestOTELExporter_ProcessTree(t *testing.T) {
	eval, err := attributes.NewEvaluator([]config.CustomAttribute{{Name: "stage", Expression: `env["STAGE"] ?? ""`}})
	require.NoError(t, err)
	x, rec := newTestExporter(t, OTELOptions{Attributes: eval, BaseEnv: envdiff.Parse([]string{"STAGE=root"})})

	events := []event.TraceEvent{
		execEvent(1, 10, "/bin/sh", []string{"sh", "-c", "make"}, nil),
		createdEvent(2, 11, 10),
		failedExec(3, 11, "/usr/local/bin/make"),
		execEvent(4, 11, "/usr/bin/make", []string{"make"},
			envdiff.Diff{{Key: "STAGE", Kind: envdiff.Changed, Old: "root", New: "build"}}),
		exitedEvent(5, 11, 2),
		exitedEvent(6, 10, 0),
	}
	for _, ev := range events {
		require.NoError(t, x.HandleEvent(ev))
	}
	require.NoError(t, x.Close())

	spans := rec.Ended()
	require.Len(t, spans, 2)
	sh := spanByName(t, spans, "sh")
	mk := spanByName(t, spans, "make")

	assert.Equal(t, sh.SpanContext().TraceID(), mk.SpanContext().TraceID())
	assert.Equal(t, sh.SpanContext().SpanID(), mk.Parent().SpanID())
	assert.False(t, sh.Parent().IsValid())

	assert.Equal(t, t0.Add(1e6), sh.StartTime())
	assert.Equal(t, t0.Add(6e6), sh.EndTime())
	assert.Equal(t, t0.Add(2e6), mk.StartTime())

	require.Len(t, mk.Events(), 2)
	assert.Equal(t, "exec", mk.Events()[0].Name)

	mkAttrs := spanAttrs(mk)
	assert.Equal(t, "build", mkAttrs["stage"].AsString())
	assert.Equal(t, "/usr/bin/make", mkAttrs["process.executable.path"].AsString())
	assert.EqualValues(t, 2, mkAttrs["process.exit.code"].AsInt64())
	assert.Equal(t, codes.Error, mk.Status().Code)

	shAttrs := spanAttrs(sh)
	assert.Equal(t, "root", shAttrs["stage"].AsString())
	assert.Equal(t, codes.Ok, sh.Status().Code)
}

func TestOTELExporter_TraceparentFromEnvironment(t *testing.T) {
	x, rec := newTestExporter(t, OTELOptions{BaseEnv: envdiff.Parse([]string{
		"TRACEPARENT=00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	})})

	require.NoError(t, x.HandleEvent(execEvent(1, 10, "/bin/true", []string{"true"}, nil)))
	require.NoError(t, x.HandleEvent(exitedEvent(2, 10, 0)))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
	assert.True(t, spans[0].Parent().IsRemote())
}

func TestOTELExporter_TraceAndParentIDExpressions(t *testing.T) {
	tids, err := attributes.NewTraceIDEvaluator(`env["BUILD_TRACE"]`)
	require.NoError(t, err)
	pids, err := attributes.NewParentIDEvaluator(`env["BUILD_SPAN"]`)
	require.NoError(t, err)

	x, rec := newTestExporter(t, OTELOptions{
		TraceID:  tids,
		ParentID: pids,
		BaseEnv: envdiff.Parse([]string{
			"BUILD_TRACE=0123456789abcdef0123456789abcdef",
			"BUILD_SPAN=0123456789abcdef",
		}),
	})
	require.NoError(t, x.HandleEvent(execEvent(1, 10, "/bin/true", nil, nil)))
	require.NoError(t, x.HandleEvent(exitedEvent(2, 10, 0)))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "0123456789abcdef", spans[0].Parent().SpanID().String())
}

func TestOTELExporter_PinsTraceIDWithoutParent(t *testing.T) {
	tids, err := attributes.NewTraceIDEvaluator(`"not hex"`)
	require.NoError(t, err)

	var pinned trace.TraceID
	x, rec := newTestExporter(t, OTELOptions{
		TraceID:    tids,
		PinTraceID: func(id trace.TraceID) { pinned = id },
	})
	require.NoError(t, x.HandleEvent(execEvent(1, 10, "/bin/true", nil, nil)))
	require.NoError(t, x.HandleEvent(exitedEvent(2, 10, 0)))

	assert.True(t, pinned.IsValid())
	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "not hex", attrs["_trace_id_expr_result"].AsString())
}

func TestOTELExporter_CloseEndsOpenSpans(t *testing.T) {
	x, rec := newTestExporter(t, OTELOptions{})
	require.NoError(t, x.HandleEvent(execEvent(1, 10, "/bin/sleep", []string{"sleep", "100"}, nil)))
	require.NoError(t, x.HandleEvent(event.TraceEvent{Seq: 2, Kind: event.KindWarning, PID: 10, Message: "detached"}))
	assert.Empty(t, rec.Ended())

	require.NoError(t, x.Close())
	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "detached", attrs["_tracing_warning_0"].AsString())
	assert.Equal(t, "process still running when tracing stopped", attrs["_tracing_warning_1"].AsString())
}

func TestOTELExporter_UnknownExit(t *testing.T) {
	x, rec := newTestExporter(t, OTELOptions{})
	require.NoError(t, x.HandleEvent(createdEvent(1, 20, 1)))
	require.NoError(t, x.HandleEvent(event.TraceEvent{Seq: 2, Kind: event.KindExited, PID: 20, Exit: &event.ExitStatus{Unknown: true}}))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "process", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
