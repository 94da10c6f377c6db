package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	sent []string
	fail map[string]error
}

func (f *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	if err, ok := f.fail[to]; ok {
		return err
	}

	f.sent = append(f.sent, to)
	return nil
}

func TestMail_Send(t *testing.T) {
	mailer := &fakeMailer{fail: map[string]error{"bad@example.com": errors.New("550 mailbox unavailable")}}
	m := NewMail(mailer)

	assert.True(t, m.Accepts("mailto:user@example.com"))
	assert.False(t, m.Accepts("mailto:"))
	assert.False(t, m.Accepts("user@example.com"))

	outcomes, err := m.Send(context.Background(), uuid.New(), []Message{
		{To: "mailto:user@example.com", Title: "T", Body: "B"},
		{To: "mailto:bad@example.com", Title: "T", Body: "B"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.NoError(t, outcomes[0].Err)
	assert.EqualError(t, outcomes[1].Err, "mailto:bad@example.com: 550 mailbox unavailable")
	assert.Equal(t, []string{"user@example.com"}, mailer.sent)
}
