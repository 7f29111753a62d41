package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/exec-tracer/internal/config"
	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

type countingHandler struct {
	events int
	closed bool
	err    error
}

func (h *countingHandler) HandleEvent(event.TraceEvent) error {
	h.events++
	return h.err
}

func (h *countingHandler) Close() error {
	h.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	failing := &countingHandler{err: errors.New("boom")}
	ok := &countingHandler{}
	m := Multi{failing, ok}

	err := m.HandleEvent(createdEvent(1, 2, 1))
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, failing.events)
	assert.Equal(t, 1, ok.events, "later handlers still see the event")

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestUseColor(t *testing.T) {
	assert.True(t, UseColor(config.ColorAlways, false, true))
	assert.False(t, UseColor(config.ColorNever, true, false))
	assert.True(t, UseColor(config.ColorAuto, true, false))
	assert.False(t, UseColor(config.ColorAuto, true, true))
	assert.False(t, UseColor(config.ColorAuto, false, false))
}

func TestOpenDestination(t *testing.T) {
	d, err := OpenDestination("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, d.Writer)
	assert.NoError(t, d.Close())

	d, err = OpenDestination("")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, d.Writer)

	path := filepath.Join(t.TempDir(), "trace.txt")
	d, err = OpenDestination(path)
	require.NoError(t, err)
	assert.False(t, d.IsTerminal())
	_, err = d.Write([]byte("x\n"))
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.Equal(t, "x\n", string(mustRead(t, path)))

	_, err = OpenDestination(filepath.Join(t.TempDir(), "missing", "trace.txt"))
	assert.Error(t, err)
}

func TestEnvTracker(t *testing.T) {
	tr := newEnvTracker(envdiff.Parse([]string{"A=1"}))

	env := tr.observe(execEvent(1, 10, "/bin/sh", nil, envdiff.Diff{{Key: "B", Kind: envdiff.Added, New: "2"}}))
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, env.Map())

	env = tr.observe(createdEvent(2, 11, 10))
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, env.Map(), "children inherit the parent's environment")

	failed := failedExec(3, 11, "/x")
	failed.Exec.EnvDiff = envdiff.Diff{{Key: "A", Kind: envdiff.Removed, Old: "1"}}
	env = tr.observe(failed)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, env.Map(), "failed execs change nothing")

	full := execEvent(4, 11, "/bin/env", nil, nil)
	full.Exec.Envp = event.ByteStrings([]string{"ONLY=1"})
	env = tr.observe(full)
	assert.Equal(t, map[string]string{"ONLY": "1"}, env.Map())

	tr.observe(exitedEvent(5, 11, 0))
	_, ok := tr.envs[11]
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"A": "1"}, tr.current(99).Map())
}
