package interpreter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o755))
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *Interpreter
	}{
		{"shell with flag", "#!/bin/sh -e\n", &Interpreter{Path: "/bin/sh", Arg: "-e"}},
		{"env", "#!/usr/bin/env python3\nprint(1)\n", &Interpreter{Path: "/usr/bin/env", Arg: "python3"}},
		{"no arg", "#!/bin/bash\n", &Interpreter{Path: "/bin/bash"}},
		{"leading space", "#! /bin/sh\n", &Interpreter{Path: "/bin/sh"}},
		{"single arg keeps spaces", "#!/usr/bin/env -S a b\n", &Interpreter{Path: "/usr/bin/env", Arg: "-S a b"}},
		{"crlf", "#!/bin/sh\r\n", &Interpreter{Path: "/bin/sh"}},
		{"no newline", "#!/bin/sh", &Interpreter{Path: "/bin/sh"}},
		{"elf", "\x7fELF\x02\x01\x01", nil},
		{"plain text", "hello\n", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.header))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_EmptyInterpreter(t *testing.T) {
	_, err := Parse([]byte("#!   \n"))
	assert.ErrorIs(t, err, ErrEmptyInterpreter)
}

func TestResolve_Script(t *testing.T) {
	path := writeFile(t, "script.sh", []byte("#!/bin/sh -e\necho hi\n"))

	got, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, &Interpreter{Path: "/bin/sh", Arg: "-e"}, got)
}

func TestResolve_OnlyReadsHeader(t *testing.T) {
	long := make([]byte, HeaderSize+10)
	for i := range long {
		long[i] = 'a'
	}
	data := append([]byte("#!/x/"), long...)
	path := writeFile(t, "long", data)

	got, err := Resolve(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Path, HeaderSize-2)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	elf := writeFile(t, "bin", []byte("\x7fELF\x02\x01\x01\x00"))

	assert.Equal(t, KindNone, Inspect(elf).Kind)

	missing := Inspect(filepath.Join(dir, "missing"))
	assert.Equal(t, KindError, missing.Kind)
	assert.Equal(t, "not found", missing.Reason)

	notRegular := Inspect(dir)
	assert.Equal(t, KindError, notRegular.Kind)
	assert.Equal(t, ErrNotRegular.Error(), notRegular.Reason)
}

func TestResolveChain(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner")
	require.NoError(t, os.WriteFile(inner, []byte("\x7fELF"), 0o755))
	middle := filepath.Join(dir, "middle")
	require.NoError(t, os.WriteFile(middle, []byte("#!"+inner+" -x\n"), 0o755))
	outer := filepath.Join(dir, "outer")
	require.NoError(t, os.WriteFile(outer, []byte("#!"+middle+"\n"), 0o755))

	chain := ResolveChain(outer, MaxDepth)

	require.Len(t, chain, 3)
	assert.Equal(t, middle, chain[0].Interpreter.Path)
	assert.Equal(t, inner, chain[1].Interpreter.Path)
	assert.Equal(t, "-x", chain[1].Interpreter.Arg)
	assert.Equal(t, KindNone, chain[2].Kind)
}

func TestResolveChain_DepthLimit(t *testing.T) {
	dir := t.TempDir()
	self := filepath.Join(dir, "loop")
	require.NoError(t, os.WriteFile(self, []byte("#!"+self+"\n"), 0o755))

	chain := ResolveChain(self, MaxDepth)

	assert.Len(t, chain, MaxDepth)
}
