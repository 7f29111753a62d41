package envdiff

import (
	"bytes"
	"strings"
)

// Entry is a single environment variable.
type Entry struct {
	Key   string
	Value string
}

// Environment is an ordered environment with unique keys.
type Environment struct {
	entries []Entry
	index   map[string]int
}

// Parse builds an Environment from KEY=VALUE strings, as found in envp.
func Parse(envp []string) Environment {
	env := Environment{
		entries: make([]Entry, 0, len(envp)),
		index:   make(map[string]int, len(envp)),
	}
	for _, kv := range envp {
		key, value := Split(kv)
		env.Set(key, value)
	}
	return env
}

// ParseNul parses NUL separated KEY=VALUE data such as /proc/<pid>/environ.
// A trailing NUL is optional and empty records are skipped.
func ParseNul(data []byte) Environment {
	var envp []string
	for _, rec := range bytes.Split(data, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		envp = append(envp, string(rec))
	}
	return Parse(envp)
}

// Split separates an environment entry into key and value.
func Split(kv string) (string, string) {
	search := kv
	offset := 0
	if strings.HasPrefix(kv, "=") {
		search = kv[1:]
		offset = 1
	}
	idx := strings.IndexByte(search, '=')
	if idx < 0 {
		return kv, ""
	}
	return kv[:idx+offset], kv[idx+offset+1:]
}

// Set assigns value to key. A new key is appended; an existing key keeps its
// position.
func (e *Environment) Set(key, value string) {
	if e.index == nil {
		e.index = make(map[string]int)
	}
	if i, ok := e.index[key]; ok {
		e.entries[i].Value = value
		return
	}
	e.index[key] = len(e.entries)
	e.entries = append(e.entries, Entry{Key: key, Value: value})
}

// Get returns the value for key.
func (e Environment) Get(key string) (string, bool) {
	i, ok := e.index[key]
	if !ok {
		return "", false
	}
	return e.entries[i].Value, true
}

// Len returns the number of distinct keys.
func (e Environment) Len() int {
	return len(e.entries)
}

// Entries returns a copy of the entries in order.
func (e Environment) Entries() []Entry {
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Map returns the environment as a map, for expression evaluation.
func (e Environment) Map() map[string]string {
	m := make(map[string]string, len(e.entries))
	for _, entry := range e.entries {
		m[entry.Key] = entry.Value
	}
	return m
}

// Strings renders the environment back to KEY=VALUE form.
func (e Environment) Strings() []string {
	out := make([]string, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.Key + "=" + entry.Value
	}
	return out
}

// Clone returns a deep copy; Set on the copy leaves e untouched.
func (e Environment) Clone() Environment {
	out := Environment{
		entries: make([]Entry, len(e.entries)),
		index:   make(map[string]int, len(e.entries)),
	}
	copy(out.entries, e.entries)
	for k, v := range e.index {
		out.index[k] = v
	}
	return out
}

// Delete removes key, preserving the order of the remaining entries.
func (e *Environment) Delete(key string) {
	i, ok := e.index[key]
	if !ok {
		return
	}
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
	delete(e.index, key)
	for j := i; j < len(e.entries); j++ {
		e.index[e.entries[j].Key] = j
	}
}
