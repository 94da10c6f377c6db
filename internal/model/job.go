package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidJobPayload = errors.New("invalid job payload")

// Job is a leased delivery job taken from the queue.
type Job struct {
	ID             string    // queue-level job id
	NotificationID uuid.UUID // notification to deliver
	Attempt        int       // 1-based number of the current attempt
	MaxAttempts    int       // attempts allowed before the job fails for good
	Token          int64     // lease token of this reservation
}

// Last reports whether a failure of this attempt exhausts the job.
func (j Job) Last() bool {
	return j.Attempt >= j.MaxAttempts
}

// JobPayload is the wire format of a delivery job. It carries only the
// notification id so the store stays the source of truth.
type JobPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// EncodeJobPayload marshals the payload for the notification id.
func EncodeJobPayload(id uuid.UUID) ([]byte, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("encode job payload: %w", ErrInvalidJobPayload)
	}

	return json.Marshal(JobPayload{NotificationID: id})
}

// DecodeJobPayload parses and validates a job payload.
func DecodeJobPayload(raw []byte) (JobPayload, error) {
	var p JobPayload

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return JobPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if p.NotificationID == uuid.Nil {
		return JobPayload{}, fmt.Errorf("%w: missing notification_id", ErrInvalidJobPayload)
	}

	return p, nil
}
