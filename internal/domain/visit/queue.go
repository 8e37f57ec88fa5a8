package visit

import (
	"bytes"
	"sort"
)

// QueueEntry is a visit annotated with its 1-based position in its bucket.
type QueueEntry struct {
	Position int   `json:"position"`
	Visit    Visit `json:"visit"`
}

// Queue is the staff-facing view of the active visits.
type Queue struct {
	Waiting        []QueueEntry `json:"waiting"`
	Called         []QueueEntry `json:"called"`
	InConsultation []QueueEntry `json:"in_consultation"`
}

// Next returns the visit that should be called next, if any.
func (q Queue) Next() (Visit, bool) {
	if len(q.Waiting) == 0 {
		return Visit{}, false
	}
	return q.Waiting[0].Visit, true
}

// Classify buckets the non-terminal visits by status. Each bucket is ordered
// by entry time, oldest first, with ties broken by id. The input slice is not
// modified.
func Classify(visits []Visit) Queue {
	var waiting, called, inConsultation []Visit
	for _, v := range visits {
		switch v.Status {
		case StatusWaiting:
			waiting = append(waiting, v)
		case StatusCalled:
			called = append(called, v)
		case StatusInConsultation:
			inConsultation = append(inConsultation, v)
		}
	}
	return Queue{
		Waiting:        rank(waiting),
		Called:         rank(called),
		InConsultation: rank(inConsultation),
	}
}

func rank(vs []Visit) []QueueEntry {
	sort.SliceStable(vs, func(i, j int) bool {
		if !vs[i].EntryTime.Equal(vs[j].EntryTime) {
			return vs[i].EntryTime.Before(vs[j].EntryTime)
		}
		return bytes.Compare(vs[i].ID[:], vs[j].ID[:]) < 0
	})
	entries := make([]QueueEntry, len(vs))
	for i, v := range vs {
		entries[i] = QueueEntry{Position: i + 1, Visit: v}
	}
	return entries
}
