// Package expo provides a small client for the Expo push notification service.
//
// It validates Expo push tokens and sends batches of messages to the Expo
// push API, returning one ticket per message in request order.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

	// MaxBatchSize is the largest number of messages Expo accepts per request.
	MaxBatchSize = 100

	StatusOK    = "ok"
	StatusError = "error"
)

// ErrUnavailable is returned when the push service could not be reached or
// answered with a server-side failure.
var ErrUnavailable = errors.New("expo: push service unavailable")

var uuidToken = regexp.MustCompile(`^[a-zA-Z\d]{8}-[a-zA-Z\d]{4}-[a-zA-Z\d]{4}-[a-zA-Z\d]{4}-[a-zA-Z\d]{12}$`)

// IsPushToken reports whether token has the shape of an Expo push token.
func IsPushToken(token string) bool {
	if (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]") {
		return true
	}

	return uuidToken.MatchString(token)
}

// Message is a single push message addressed to one token.
type Message struct {
	To         string         `json:"to"`
	Title      string         `json:"title,omitempty"`
	Body       string         `json:"body,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Sound      *string        `json:"sound,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	Badge      *int           `json:"badge,omitempty"`
	TTL        *int           `json:"ttl,omitempty"`
	Expiration *int64         `json:"expiration,omitempty"`
}

// Ticket is the per-message result of a send request.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// TicketDetails carries the machine-readable error code of a failed ticket.
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// Err returns the ticket failure as an error, or nil for an accepted message.
func (t Ticket) Err() error {
	if t.Status == StatusOK {
		return nil
	}

	msg := t.Message
	if msg == "" {
		msg = "push ticket rejected"
	}
	if t.Details != nil && t.Details.Error != "" {
		msg = fmt.Sprintf("%s (%s)", msg, t.Details.Error)
	}

	return errors.New(msg)
}

// RequestError is returned when Expo rejected the whole request.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("expo: request rejected with %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("expo: request rejected with %d: %s", e.StatusCode, e.Message)
}

type sendResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Client represents an Expo push client.
type Client struct {
	endpoint    string       // push API URL
	accessToken string       // optional enhanced security access token
	client      *http.Client // HTTP client used to make requests
}

// NewClient creates a new Expo Client. An empty endpoint selects the public
// Expo push API.
func NewClient(endpoint, accessToken string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Client{
		endpoint:    endpoint,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

// Send delivers up to MaxBatchSize messages in one request.
//
// The returned tickets are in the same order as msgs. Transport errors,
// throttling and 5xx responses wrap ErrUnavailable; other rejections of the
// whole request are reported as *RequestError.
func (c *Client) Send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	if len(msgs) > MaxBatchSize {
		return nil, fmt.Errorf("expo: batch of %d exceeds limit of %d", len(msgs), MaxBatchSize)
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &RequestError{StatusCode: resp.StatusCode, Message: resp.Status}
		}

		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK || len(out.Errors) > 0 {
		reqErr := &RequestError{StatusCode: resp.StatusCode, Message: resp.Status}
		if len(out.Errors) > 0 {
			reqErr.Code = out.Errors[0].Code
			reqErr.Message = out.Errors[0].Message
		}

		return nil, reqErr
	}

	if len(out.Data) != len(msgs) {
		return nil, fmt.Errorf("%w: got %d tickets for %d messages", ErrUnavailable, len(out.Data), len(msgs))
	}

	return out.Data, nil
}
