package envdiff

// ChangeKind describes how a key differs between two environments.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is one entry of a Diff. Old is empty for Added, New is empty for
// Removed.
type Change struct {
	Key  string     `json:"key"`
	Kind ChangeKind `json:"kind"`
	Old  string     `json:"old,omitempty"`
	New  string     `json:"new,omitempty"`
}

// Diff lists the keys that differ between two environments.
type Diff []Change

// Empty reports whether the environments were equal.
func (d Diff) Empty() bool {
	return len(d) == 0
}

// Compute returns the keys that were added, removed or changed going from
// old to new. Keys of old come first in their order, followed by keys only
// present in new.
func Compute(old, new Environment) Diff {
	var diff Diff
	for _, entry := range old.entries {
		value, ok := new.Get(entry.Key)
		switch {
		case !ok:
			diff = append(diff, Change{Key: entry.Key, Kind: Removed, Old: entry.Value})
		case value != entry.Value:
			diff = append(diff, Change{Key: entry.Key, Kind: Changed, Old: entry.Value, New: value})
		}
	}
	for _, entry := range new.entries {
		if _, ok := old.Get(entry.Key); !ok {
			diff = append(diff, Change{Key: entry.Key, Kind: Added, New: entry.Value})
		}
	}
	return diff
}

// Apply returns a copy of env with the changes of d applied, so that
// Apply(old, Compute(old, new)) has the same keys and values as new.
func Apply(env Environment, d Diff) Environment {
	out := env.Clone()
	for _, c := range d {
		switch c.Kind {
		case Removed:
			out.Delete(c.Key)
		case Added, Changed:
			out.Set(c.Key, c.New)
		}
	}
	return out
}
