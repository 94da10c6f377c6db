// Package channel delivers notification messages over push transports.
//
// Every transport implements Channel. A Router assigns each recipient token
// to the first channel that accepts its format.
package channel

import (
	"context"

	"github.com/google/uuid"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

//go:generate mockgen -source=channel.go -destination=../mocks/channel/channel_mock.go -package=mocks

// Channel is a delivery transport for one class of recipient token.
//
// Send returns one Outcome per message, in batch order. Failures of single
// recipients are reported in the outcomes; a returned error means the whole
// channel was unavailable and wraps ErrChannelUnavailable.
type Channel interface {
	Name() string
	Accepts(recipient string) bool
	Send(ctx context.Context, userID uuid.UUID, batch []Message) ([]Outcome, error)
}

// Message is the content delivered to one recipient.
type Message struct {
	To         string
	Title      string
	Body       string
	Data       *model.Payload
	Sound      *string
	Priority   string
	Badge      *int
	TTL        *int
	Expiration *int64
}

// Outcome is the delivery result of one recipient. A nil Err means delivered.
type Outcome struct {
	Recipient string
	Err       error
}

// Ok builds a successful outcome.
func Ok(recipient string) Outcome {
	return Outcome{Recipient: recipient}
}

// NewMessage builds the message n delivers to recipient.
func NewMessage(n model.Notification, recipient string) Message {
	return Message{
		To:         recipient,
		Title:      n.Title,
		Body:       n.Body,
		Data:       n.Data,
		Sound:      n.Sound,
		Priority:   n.Priority,
		Badge:      n.Badge,
		TTL:        n.TTL,
		Expiration: n.Expiration,
	}
}

// Partition is the share of a notification's recipients routed to one channel.
type Partition struct {
	Channel    Channel
	Recipients []string
	Positions  []int // index of each recipient in the notification
}

// Router assigns recipients to channels.
type Router struct {
	channels []Channel
}

// NewRouter creates a Router. Channels are tried in the given order.
func NewRouter(channels ...Channel) *Router {
	return &Router{channels: channels}
}

// Channels returns the configured channels.
func (r *Router) Channels() []Channel {
	return r.channels
}

// Partition groups recipients by the first channel that accepts them.
// Recipients no channel accepts are returned as failed outcomes together
// with their positions.
func (r *Router) Partition(recipients []string) ([]Partition, []Outcome, []int) {
	parts := make([]Partition, len(r.channels))
	for i, ch := range r.channels {
		parts[i].Channel = ch
	}

	var (
		rejected  []Outcome
		positions []int
	)

	for pos, recipient := range recipients {
		matched := false
		for i, ch := range r.channels {
			if ch.Accepts(recipient) {
				parts[i].Recipients = append(parts[i].Recipients, recipient)
				parts[i].Positions = append(parts[i].Positions, pos)
				matched = true
				break
			}
		}

		if !matched {
			rejected = append(rejected, Fail(recipient, ErrUnsupportedRecipient))
			positions = append(positions, pos)
		}
	}

	out := parts[:0]
	for _, p := range parts {
		if len(p.Recipients) > 0 {
			out = append(out, p)
		}
	}

	return out, rejected, positions
}
