package mongorepo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

type document struct {
	ID         string      `bson:"_id"`
	UserID     string      `bson:"user_id"`
	Recipients []string    `bson:"recipients"`
	Title      string      `bson:"title"`
	Body       string      `bson:"body"`
	Data       *payloadDoc `bson:"data,omitempty"`
	Sound      *string     `bson:"sound,omitempty"`
	Priority   string      `bson:"priority"`
	Badge      *int        `bson:"badge,omitempty"`
	TTL        *int        `bson:"ttl,omitempty"`
	Expiration *int64      `bson:"expiration,omitempty"`
	Read       bool        `bson:"read"`
	SentAt     *time.Time  `bson:"sent_at"`
	SendError  *string     `bson:"send_error,omitempty"`
	ClaimedAt  *time.Time  `bson:"claimed_at"`
	CreatedAt  time.Time   `bson:"created_at"`
	UpdatedAt  time.Time   `bson:"updated_at"`
}

type payloadDoc struct {
	Route      string         `bson:"route,omitempty"`
	Params     map[string]any `bson:"params,omitempty"`
	ButtonText string         `bson:"button_text,omitempty"`
}

func toDocument(n model.Notification) document {
	doc := document{
		ID:         n.ID.String(),
		UserID:     n.UserID.String(),
		Recipients: n.Recipients,
		Title:      n.Title,
		Body:       n.Body,
		Sound:      n.Sound,
		Priority:   n.Priority,
		Badge:      n.Badge,
		TTL:        n.TTL,
		Expiration: n.Expiration,
		Read:       n.Read,
		SentAt:     n.SentAt,
		SendError:  n.SendError,
		ClaimedAt:  n.ClaimedAt,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}

	if n.Data != nil {
		doc.Data = &payloadDoc{Route: n.Data.Route, Params: n.Data.Params, ButtonText: n.Data.ButtonText}
	}

	return doc
}

func (d document) toModel() (model.Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Notification{}, fmt.Errorf("decode id: %w", err)
	}

	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return model.Notification{}, fmt.Errorf("decode user_id: %w", err)
	}

	n := model.Notification{
		ID:         id,
		UserID:     userID,
		Recipients: d.Recipients,
		Title:      d.Title,
		Body:       d.Body,
		Sound:      d.Sound,
		Priority:   d.Priority,
		Badge:      d.Badge,
		TTL:        d.TTL,
		Expiration: d.Expiration,
		Read:       d.Read,
		SentAt:     d.SentAt,
		SendError:  d.SendError,
		ClaimedAt:  d.ClaimedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}

	if d.Data != nil {
		n.Data = &model.Payload{Route: d.Data.Route, Params: d.Data.Params, ButtonText: d.Data.ButtonText}
	}

	return n, nil
}
