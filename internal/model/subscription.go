package model

import (
	"time"

	"github.com/google/uuid"
)

// Subscription represents a browser push subscription stored on a user's profile.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Endpoint  string    `json:"endpoint"` // push service URL, also used as the recipient token
	P256dh    string    `json:"p256dh"`   // client public key
	Auth      string    `json:"auth"`     // client auth secret
	CreatedAt time.Time `json:"created_at"`
}
