package visit

import (
	"fmt"
	"time"

	"github.com/ehr/opd/internal/platform/apperr"
)

// transitions lists the allowed next states for every status. Terminal
// statuses map to an empty set. Self-transitions are handled separately.
var transitions = map[Status][]Status{
	StatusWaiting:        {StatusCalled, StatusInConsultation, StatusCancelled, StatusNoShow},
	StatusCalled:         {StatusInConsultation, StatusWaiting, StatusCancelled, StatusNoShow},
	StatusInConsultation: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusNoShow:         {},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// A self-transition is not an edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Transition applies target to v and returns the updated copy. A request for
// the current status returns v unchanged. Timestamps are stamped from now:
// the consultation start on first entry into in_consultation, the end on
// entry into completed. Completing requires a recorded start.
func Transition(v Visit, target Status, now time.Time) (Visit, error) {
	if _, ok := transitions[target]; !ok {
		return v, apperr.InvalidInput("unknown visit status %q", target)
	}
	if _, ok := transitions[v.Status]; !ok {
		return v, fmt.Errorf("visit %s has unknown status %q: %w", v.ID, v.Status, apperr.ErrPreconditionFailed)
	}
	if target == v.Status {
		return v, nil
	}
	if !CanTransition(v.Status, target) {
		return v, fmt.Errorf("%s -> %s: %w", v.Status, target, apperr.ErrInvalidTransition)
	}

	next := v
	switch target {
	case StatusInConsultation:
		if next.ConsultationStartTime == nil {
			start := laterOf(now, v.EntryTime)
			next.ConsultationStartTime = &start
		}
	case StatusCompleted:
		if next.ConsultationStartTime == nil {
			return v, fmt.Errorf("visit %s cannot complete before consultation starts: %w", v.ID, apperr.ErrPreconditionFailed)
		}
		end := laterOf(now, *next.ConsultationStartTime)
		next.ConsultationEndTime = &end
	}
	next.Status = target
	return next, nil
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
