package proctable

import (
	"sort"

	"github.com/mrzor/exec-tracer/internal/envdiff"
	"github.com/mrzor/exec-tracer/internal/event"
)

// State is where a tracee is in its stop cycle.
type State int

const (
	Attaching State = iota
	Running
	InSyscallEntry
	InSyscallExit
	// GroupStopped is a tracee kept in its group-stop until SIGCONT.
	GroupStopped
	Exited
)

func (s State) String() string {
	switch s {
	case Attaching:
		return "attaching"
	case Running:
		return "running"
	case InSyscallEntry:
		return "in-syscall-entry"
	case InSyscallExit:
		return "in-syscall-exit"
	case GroupStopped:
		return "group-stopped"
	case Exited:
		return "exited"
	default:
		return "invalid"
	}
}

// Tracee is the supervisor's record of one traced task.
type Tracee struct {
	ID       int
	ParentID int
	State    State
	Root     bool

	// Pending is the exec attempt between syscall entry and its conclusion.
	Pending *event.ExecAttempt
	// LastEnv is the environment of the most recent successful exec, or the
	// inherited one.
	LastEnv envdiff.Environment

	// AwaitingParent is set when the initial stop arrived before the
	// parent's creation event. The tracee stays stopped until then.
	AwaitingParent bool
	// Announced is set once the Created event has been emitted.
	Announced bool
	// SawInitialStop is set once a new child's first stop was consumed.
	SawInitialStop bool

	Exit *event.ExitStatus
}

// Resumed records that the tracee was let go from a stop. A tracee resumed
// from a syscall entry stop is still inside that syscall.
func (tr *Tracee) Resumed() {
	if tr.State != InSyscallEntry {
		tr.State = Running
	}
}

// Table maps tracee ids to their records.
type Table struct {
	tracees map[int]*Tracee
}

// New creates an empty table.
func New() *Table {
	return &Table{tracees: make(map[int]*Tracee)}
}

// Add inserts a tracee, replacing any stale record with the same id.
func (t *Table) Add(tr *Tracee) {
	t.tracees[tr.ID] = tr
}

// Get returns the tracee for id, or nil.
func (t *Table) Get(id int) *Tracee {
	return t.tracees[id]
}

// GetOrAdopt returns the tracee for id, registering it with an unknown
// parent if it was never seen. The bool reports whether it was created.
func (t *Table) GetOrAdopt(id int) (*Tracee, bool) {
	if tr, ok := t.tracees[id]; ok {
		return tr, false
	}
	tr := &Tracee{ID: id, State: Running}
	t.tracees[id] = tr
	return tr, true
}

// Remove deletes the tracee and returns its final record.
func (t *Table) Remove(id int) *Tracee {
	tr := t.tracees[id]
	delete(t.tracees, id)
	if tr != nil {
		tr.State = Exited
	}
	return tr
}

// Migrate moves the record of from onto to. This happens when a non leader
// thread calls exec: the kernel gives it the leader's id and the leader
// vanishes. The migrated record keeps the identity fields of to.
func (t *Table) Migrate(from, to int) *Tracee {
	src := t.tracees[from]
	if src == nil {
		return t.tracees[to]
	}
	delete(t.tracees, from)
	dst := t.tracees[to]
	if dst != nil {
		src.ID = dst.ID
		src.ParentID = dst.ParentID
		src.Root = dst.Root
		src.Announced = dst.Announced
	} else {
		src.ID = to
	}
	t.tracees[to] = src
	return src
}

// Len returns the number of live tracees.
func (t *Table) Len() int {
	return len(t.tracees)
}

// IDs returns the live tracee ids in ascending order.
func (t *Table) IDs() []int {
	ids := make([]int, 0, len(t.tracees))
	for id := range t.tracees {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
