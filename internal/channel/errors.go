package channel

import (
	"errors"
	"fmt"
)

// ErrChannelUnavailable is wrapped by every whole-channel failure.
var ErrChannelUnavailable = errors.New("channel unavailable")

// ErrUnsupportedRecipient marks a recipient that no channel accepts.
var ErrUnsupportedRecipient = errors.New("unsupported recipient format")

// RecipientError is a delivery failure of a single recipient. It is recorded
// in the notification's send error and never aborts the attempt.
type RecipientError struct {
	Recipient string
	Err       error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Recipient, e.Err)
}

func (e *RecipientError) Unwrap() error {
	return e.Err
}

// Fail builds a failed outcome for recipient.
func Fail(recipient string, err error) Outcome {
	var re *RecipientError
	if errors.As(err, &re) && re.Recipient == recipient {
		return Outcome{Recipient: recipient, Err: re}
	}

	return Outcome{Recipient: recipient, Err: &RecipientError{Recipient: recipient, Err: err}}
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrChannelUnavailable, name, err)
}
