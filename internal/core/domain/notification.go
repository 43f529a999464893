package domain

import (
	"strconv"
	"time"
)

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	NotifyNewEstimate   NotificationKind = "new_estimate"
	NotifyStatusChanged NotificationKind = "status_changed"
)

// Notification is raised for interesting transitions in the live feed.
type Notification struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	EstimateID  string           `json:"estimate_id"`
	OldStatus   EstimateStatus   `json:"old_status,omitempty"`
	NewStatus   EstimateStatus   `json:"new_status,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	// Revision is the record version the notification was raised for, or
	// its update time in nanoseconds when the source has no versions.
	Revision int64 `json:"revision,omitempty"`
	// Audience is the CacheKey of the identity the notification was raised
	// for. Sinks drop notifications meant for another identity.
	Audience string `json:"-"`
}

// DedupKey identifies the change a notification describes for its audience,
// so redeliveries of one event collapse while a later transition back to the
// same status does not. Without a revision every notification is distinct.
func (n Notification) DedupKey() string {
	if n.Revision == 0 {
		return n.Audience + ":" + n.ID
	}
	return n.Audience + ":" + string(n.Kind) + ":" + n.EstimateID + ":" +
		string(n.OldStatus) + ":" + string(n.NewStatus) + ":" + strconv.FormatInt(n.Revision, 10)
}

// RevisionOf returns the revision that identifies rec's current state.
func RevisionOf(rec *Estimate) int64 {
	if rec.Version > 0 {
		return rec.Version
	}
	if rec.UpdatedAt.IsZero() {
		return 0
	}
	return rec.UpdatedAt.UnixNano()
}
