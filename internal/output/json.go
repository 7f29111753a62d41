package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mrzor/exec-tracer/internal/attributes"
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

type jsonRecord struct {
	event.TraceEvent
	Attributes map[string]string `json:"attributes,omitempty"`
}

// JSONPrinter writes events as JSON Lines. Successful execs carry the
// custom attributes evaluated against the new program.
type JSONPrinter struct {
	w     *bufio.Writer
	enc   *json.Encoder
	attrs *attributes.Evaluator
	envs  *envTracker
}

// NewJSONPrinter creates a JSONPrinter. attrs may be nil. baseEnv is the
// environment assumed for processes whose parent was not traced.
func NewJSONPrinter(w io.Writer, attrs *attributes.Evaluator, baseEnv envdiff.Environment) *JSONPrinter {
	bw := bufio.NewWriter(w)
	return &JSONPrinter{
		w:     bw,
		enc:   json.NewEncoder(bw),
		attrs: attrs,
		envs:  newEnvTracker(baseEnv),
	}
}

// HandleEvent writes one line for ev.
func (p *JSONPrinter) HandleEvent(ev event.TraceEvent) error {
	rec := jsonRecord{TraceEvent: ev}
	env := p.envs.observe(ev)
	if p.attrs != nil && p.attrs.Len() > 0 && ev.Exec != nil && ev.Exec.Outcome.Kind == event.OutcomeSuccess {
		kvs, err := p.attrs.EvaluateCustomAttributes(attributes.NewSubject(ev.PID, ev.Exec, env))
		if err != nil {
			return err
		}
		if len(kvs) > 0 {
			rec.Attributes = make(map[string]string, len(kvs))
			for _, kv := range kvs {
				rec.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
	}
	if err := p.enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding event %d: %w", ev.Seq, err)
	}
	return p.w.Flush()
}

// Close flushes buffered output.
func (p *JSONPrinter) Close() error {
	return p.w.Flush()
}
