package channel

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const mailtoPrefix = "mailto:"

type mailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mail delivers to "mailto:" recipients over SMTP.
type Mail struct {
	sender mailSender
}

// NewMail creates a Mail channel.
func NewMail(sender mailSender) *Mail {
	return &Mail{sender: sender}
}

func (m *Mail) Name() string {
	return "mail"
}

func (m *Mail) Accepts(recipient string) bool {
	return strings.HasPrefix(recipient, mailtoPrefix) && len(recipient) > len(mailtoPrefix)
}

func (m *Mail) Send(ctx context.Context, _ uuid.UUID, batch []Message) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(batch))

	for _, msg := range batch {
		to := strings.TrimPrefix(msg.To, mailtoPrefix)

		if err := m.sender.Send(ctx, to, msg.Title, msg.Body); err != nil {
			if ctx.Err() != nil {
				chErr := unavailable(m.Name(), ctx.Err())
				for _, rest := range batch[len(outcomes):] {
					outcomes = append(outcomes, Fail(rest.To, chErr))
				}

				return outcomes, chErr
			}

			outcomes = append(outcomes, Fail(msg.To, err))
			continue
		}

		outcomes = append(outcomes, Ok(msg.To))
	}

	return outcomes, nil
}
