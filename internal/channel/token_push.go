package channel

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/pkg/expo"
)

type pushClient interface {
	Send(ctx context.Context, msgs []expo.Message) ([]expo.Ticket, error)
}

// TokenPush delivers to mobile devices through Expo push tokens.
type TokenPush struct {
	client pushClient
}

// NewTokenPush creates a TokenPush channel over the given Expo client.
func NewTokenPush(client pushClient) *TokenPush {
	return &TokenPush{client: client}
}

func (t *TokenPush) Name() string {
	return "expo"
}

func (t *TokenPush) Accepts(recipient string) bool {
	return expo.IsPushToken(recipient)
}

// Send delivers the batch in vendor requests of at most expo.MaxBatchSize
// messages. When Expo becomes unavailable the remaining messages are reported
// as failed and the channel error is returned.
func (t *TokenPush) Send(ctx context.Context, _ uuid.UUID, batch []Message) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(batch))

	for start := 0; start < len(batch); start += expo.MaxBatchSize {
		end := min(start+expo.MaxBatchSize, len(batch))
		chunk := batch[start:end]

		msgs := make([]expo.Message, len(chunk))
		for i, m := range chunk {
			msgs[i] = toExpoMessage(m)
		}

		tickets, err := t.client.Send(ctx, msgs)
		if err != nil {
			if errors.Is(err, expo.ErrUnavailable) || ctx.Err() != nil {
				chErr := unavailable(t.Name(), err)
				for _, m := range batch[start:] {
					outcomes = append(outcomes, Fail(m.To, chErr))
				}

				return outcomes, chErr
			}

			for _, m := range chunk {
				outcomes = append(outcomes, Fail(m.To, err))
			}
			continue
		}

		for i, ticket := range tickets {
			if err := ticket.Err(); err != nil {
				outcomes = append(outcomes, Fail(chunk[i].To, err))
				continue
			}

			outcomes = append(outcomes, Ok(chunk[i].To))
		}
	}

	return outcomes, nil
}

func toExpoMessage(m Message) expo.Message {
	priority := m.Priority
	if priority == "" {
		priority = model.PriorityDefault
	}

	return expo.Message{
		To:         m.To,
		Title:      m.Title,
		Body:       m.Body,
		Data:       m.Data.Map(),
		Sound:      m.Sound,
		Priority:   priority,
		Badge:      m.Badge,
		TTL:        m.TTL,
		Expiration: m.Expiration,
	}
}
