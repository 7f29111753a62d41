// Package envdiff parses process environments and computes the difference
// between two of them.
//
// Environments are kept as ordered key/value lists rather than maps so that
// diffs come out in a stable, meaningful order:
//
//	old: A=1 B=2 C=3        new: A=1 C=4 D=5
//
//	  - B            (removed, position of B in old)
//	  M C 3 -> 4     (changed, position of C in old)
//	  + D=5          (added, position of D in new)
//
// Parsing rules follow what the kernel hands to a new program:
//   - an entry splits at its first '='
//   - an entry starting with '=' splits at the next '=' (the leading '=' is
//     part of the key, as seen in cmd.exe style "=C:=C:\" variables)
//   - an entry without '=' is a key with an empty value
//   - a key seen twice keeps its first position and its last value
package envdiff
