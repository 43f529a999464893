package domain

// EventKind is the type of change carried by a ChangeEvent.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent is one insert, update or delete delivered by a change stream.
// Record is nil for deletes. Previous is the prior state when the source
// provides it; for deletes it carries at least the primary key.
type ChangeEvent struct {
	Kind     EventKind `json:"kind"`
	Record   *Estimate `json:"record,omitempty"`
	Previous *Estimate `json:"previous,omitempty"`
}

// RecordID returns the id of the estimate the event refers to.
func (e ChangeEvent) RecordID() string {
	if e.Record != nil {
		return e.Record.ID
	}
	if e.Previous != nil {
		return e.Previous.ID
	}
	return ""
}
