package tracer

import (
	"errors"

	"github.com/mrzor/exec-tracer/internal/event"
	"github.com/mrzor/exec-tracer/internal/memreader"
)

// readStatus folds a memory read error into the attempt's record of it.
func readStatus(err error) event.ReadStatus {
	if err == nil {
		return event.ReadStatus{}
	}
	var re *memreader.ReadError
	if errors.As(err, &re) && (re.Partial || errors.Is(err, memreader.ErrTooLong)) {
		return event.ReadStatus{Truncated: true, Reason: err.Error()}
	}
	return event.ReadStatus{Unreadable: true, Reason: err.Error()}
}
