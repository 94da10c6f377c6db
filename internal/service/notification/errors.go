package notification

import "errors"

var (
	ErrValidation       = errors.New("invalid notification")
	ErrNotFound         = errors.New("notification not found")
	ErrStoreUnavailable = errors.New("notification store unavailable")
	ErrAlreadyClaimed   = errors.New("notification already claimed or attempted")
)
