package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAttempted = "notification.attempted"
	EventAbandoned = "notification.abandoned"
)

// Event reports the outcome of a delivery to the surrounding application.
type Event struct {
	Type           string     `json:"type"`
	NotificationID uuid.UUID  `json:"notification_id"`
	UserID         uuid.UUID  `json:"user_id"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	SendError      *string    `json:"send_error,omitempty"`
	Delivered      int        `json:"delivered"`
	Failed         int        `json:"failed"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
