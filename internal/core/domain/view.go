package domain

import "time"

// FeedState is the lifecycle state of the change stream subscription.
type FeedState string

const (
	FeedIdle         FeedState = "idle"
	FeedConnecting   FeedState = "connecting"
	FeedSubscribed   FeedState = "subscribed"
	FeedError        FeedState = "error"
	FeedReconnecting FeedState = "reconnecting"
	FeedDisconnected FeedState = "disconnected"
	FeedClosed       FeedState = "closed"
)

// Degraded reports whether live updates are currently not flowing.
func (s FeedState) Degraded() bool {
	switch s {
	case FeedError, FeedReconnecting, FeedDisconnected:
		return true
	}
	return false
}

// View is the immutable consumer-facing state of one sync session. A new
// View is published on every change; holders never see partial updates.
type View struct {
	Identity  *Identity  `json:"identity,omitempty"`
	Records   []Estimate `json:"records"`
	IsLoading bool       `json:"is_loading"`
	Error     string     `json:"error,omitempty"`
	FeedState FeedState  `json:"feed_state"`
	Degraded  bool       `json:"degraded"`
	UpdatedAt time.Time  `json:"updated_at"`
}
