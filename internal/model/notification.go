package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	SoundDefault = "default"

	PriorityDefault = "default"
	PriorityHigh    = "high"
)

// Notification represents a push notification record owned by a user.
type Notification struct {
	ID         uuid.UUID  `json:"id"`                   // unique identifier for the notification
	UserID     uuid.UUID  `json:"user_id"`              // owner of the notification
	Recipients []string   `json:"recipients"`           // channel-addressable tokens, in delivery order
	Title      string     `json:"title"`                // notification title
	Body       string     `json:"body"`                 // notification body
	Data       *Payload   `json:"data,omitempty"`       // optional client payload
	Sound      *string    `json:"sound,omitempty"`      // "default" or nil for silent
	Priority   string     `json:"priority,omitempty"`   // "default" or "high"
	Badge      *int       `json:"badge,omitempty"`      // app icon badge count
	TTL        *int       `json:"ttl,omitempty"`        // seconds the vendor may hold the message
	Expiration *int64     `json:"expiration,omitempty"` // unix seconds after which the message is dropped
	Read       bool       `json:"read"`                 // read receipt, independent of delivery
	SentAt     *time.Time `json:"sent_at,omitempty"`    // set once a delivery attempt completed
	SendError  *string    `json:"send_error,omitempty"` // aggregated errors of the last attempt
	ClaimedAt  *time.Time `json:"-"`                    // delivery lease held by a worker
	CreatedAt  time.Time  `json:"created_at"`           // timestamp when the notification was created
	UpdatedAt  time.Time  `json:"updated_at"`           // timestamp when the notification was last updated
}

// Attempted reports whether a delivery attempt has already completed.
func (n Notification) Attempted() bool {
	return n.SentAt != nil
}

// Payload is the structured data delivered alongside the visible message.
type Payload struct {
	Route      string         `json:"route,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	ButtonText string         `json:"buttonText,omitempty"`
}

// CreateInput holds caller-supplied fields of a new notification.
type CreateInput struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	Recipients []string  `json:"recipients" validate:"required,min=1,dive,required"`
	Title      string    `json:"title" validate:"required"`
	Body       string    `json:"body" validate:"required"`
	Data       *Payload  `json:"data,omitempty"`
	Sound      *string   `json:"sound,omitempty" validate:"omitempty,oneof=default"`
	Priority   string    `json:"priority,omitempty" validate:"omitempty,oneof=default high"`
	Badge      *int      `json:"badge,omitempty" validate:"omitempty,min=0"`
	TTL        *int      `json:"ttl,omitempty" validate:"omitempty,min=0"`
	Expiration *int64    `json:"expiration,omitempty" validate:"omitempty,min=0"`
}

// Patch lists the fields that may change after creation.
//
// A nil field is left untouched. SentAt and SendError are double pointers so
// that a non-nil pointer to nil clears the stored value.
type Patch struct {
	SentAt    **time.Time
	SendError **string
	Read      *bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.SentAt == nil && p.SendError == nil && p.Read == nil
}

// Apply copies the patched fields onto n.
func (p Patch) Apply(n *Notification) {
	if p.SentAt != nil {
		n.SentAt = *p.SentAt
	}
	if p.SendError != nil {
		n.SendError = *p.SendError
	}
	if p.Read != nil {
		n.Read = *p.Read
	}
}

// Map flattens the payload into the key/value form push vendors expect.
func (p *Payload) Map() map[string]any {
	if p == nil {
		return nil
	}

	m := make(map[string]any, 3)
	if p.Route != "" {
		m["route"] = p.Route
	}
	if len(p.Params) > 0 {
		m["params"] = p.Params
	}
	if p.ButtonText != "" {
		m["buttonText"] = p.ButtonText
	}

	if len(m) == 0 {
		return nil
	}

	return m
}
