package domain

import "time"

type EventKind string

const (
	EventKindOrder   EventKind = "order"
	EventKindInquiry EventKind = "inquiry"
)

// StatusEvent is broadcast after a status change has been persisted.
type StatusEvent struct {
	Kind      EventKind `json:"kind"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}
