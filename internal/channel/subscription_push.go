package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

var (
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrUnknownSubscription = errors.New("no subscription registered for endpoint")
)

// SubscriptionStore resolves browser subscriptions from a user's profile.
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Subscription, error)
	DeleteByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error
}

// VAPID holds the application server identity used to sign Web Push requests.
type VAPID struct {
	Subscriber string
	PublicKey  string
	PrivateKey string
	TTL        int // seconds, used when a message has no TTL of its own
}

// SubscriptionPush delivers to browsers through Web Push subscriptions.
// The recipient token is the subscription endpoint URL.
type SubscriptionPush struct {
	store  SubscriptionStore
	vapid  VAPID
	client webpush.HTTPClient
}

// NewSubscriptionPush creates a SubscriptionPush channel.
func NewSubscriptionPush(store SubscriptionStore, vapid VAPID, timeout time.Duration) *SubscriptionPush {
	return &SubscriptionPush{
		store:  store,
		vapid:  vapid,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *SubscriptionPush) Name() string {
	return "webpush"
}

func (s *SubscriptionPush) Accepts(recipient string) bool {
	return strings.HasPrefix(recipient, "https://")
}

type webPushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	Badge *int           `json:"badge,omitempty"`
}

// Send looks up the user's subscriptions and sends every message
// individually. Subscriptions the push service reports as gone are removed.
func (s *SubscriptionPush) Send(ctx context.Context, userID uuid.UUID, batch []Message) ([]Outcome, error) {
	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		chErr := unavailable(s.Name(), err)

		outcomes := make([]Outcome, len(batch))
		for i, m := range batch {
			outcomes[i] = Fail(m.To, chErr)
		}

		return outcomes, chErr
	}

	byEndpoint := make(map[string]model.Subscription, len(subs))
	for _, sub := range subs {
		byEndpoint[sub.Endpoint] = sub
	}

	outcomes := make([]Outcome, 0, len(batch))
	for _, m := range batch {
		sub, ok := byEndpoint[m.To]
		if !ok {
			outcomes = append(outcomes, Fail(m.To, ErrUnknownSubscription))
			continue
		}

		if err := s.send(ctx, sub, m); err != nil {
			if ctx.Err() != nil {
				chErr := unavailable(s.Name(), ctx.Err())
				for _, rest := range batch[len(outcomes):] {
					outcomes = append(outcomes, Fail(rest.To, chErr))
				}

				return outcomes, chErr
			}

			if errors.Is(err, ErrSubscriptionExpired) {
				if delErr := s.store.DeleteByEndpoint(ctx, userID, sub.Endpoint); delErr != nil {
					zlog.Logger.Warn().Err(delErr).Str("endpoint", sub.Endpoint).Msg("failed to remove expired subscription")
				}
			}

			outcomes = append(outcomes, Fail(m.To, err))
			continue
		}

		outcomes = append(outcomes, Ok(m.To))
	}

	return outcomes, nil
}

func (s *SubscriptionPush) send(ctx context.Context, sub model.Subscription, m Message) error {
	payload, err := json.Marshal(webPushPayload{
		Title: m.Title,
		Body:  m.Body,
		Data:  m.Data.Map(),
		Badge: m.Badge,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ttl := s.vapid.TTL
	if m.TTL != nil {
		ttl = *m.TTL
	}

	urgency := webpush.UrgencyNormal
	if m.Priority == model.PriorityHigh {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.vapid.Subscriber,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             ttl,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionExpired
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("push service responded with %s", resp.Status)
	}

	return nil
}
