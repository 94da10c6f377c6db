package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/push-dispatcher/internal/channel"
	"github.com/aliskhannn/push-dispatcher/internal/model"
	notifrepo "github.com/aliskhannn/push-dispatcher/internal/repository/notification"
)

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

const (
	StatusPending   = "pending"
	StatusAttempted = "attempted"

	DefaultListLimit = 50
	MaxListLimit     = 500
)

type notificationRepository interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	FindByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error)
	UpdateByID(ctx context.Context, id uuid.UUID, patch model.Patch) (model.Notification, error)
	ClaimDelivery(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)
	CompleteDelivery(ctx context.Context, id uuid.UUID, sentAt time.Time, sendError *string) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, sendError *string) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, notificationID uuid.UUID) (bool, error)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

type eventPublisher interface {
	Publish(event model.Event) error
}

// Options tunes a Service.
type Options struct {
	Lease    time.Duration  // how long a delivery claim blocks other senders
	Strategy retry.Strategy // retry policy for cache writes
}

// Service creates notifications, schedules them and delivers them over the
// configured channels.
type Service struct {
	repo     notificationRepository
	router   *channel.Router
	queue    jobQueue
	cache    cache
	events   eventPublisher
	validate *validator.Validate
	lease    time.Duration
	strategy retry.Strategy
	now      func() time.Time
}

// NewService creates a new Service. The cache and the event publisher are
// optional.
func NewService(
	repo notificationRepository,
	router *channel.Router,
	queue jobQueue,
	cache cache,
	events eventPublisher,
	opts Options,
) *Service {
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}

	return &Service{
		repo:     repo,
		router:   router,
		queue:    queue,
		cache:    cache,
		events:   events,
		validate: validator.New(),
		lease:    opts.Lease,
		strategy: opts.Strategy,
		now:      time.Now,
	}
}

// Create validates the input and persists a new, not yet attempted
// notification. It does not schedule delivery.
func (s *Service) Create(ctx context.Context, in model.CreateInput) (model.Notification, error) {
	if err := s.validate.Struct(in); err != nil {
		return model.Notification{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	sound := in.Sound
	if sound == nil {
		def := model.SoundDefault
		sound = &def
	}

	priority := in.Priority
	if priority == "" {
		priority = model.PriorityDefault
	}

	stored, err := s.repo.Create(ctx, model.Notification{
		UserID:     in.UserID,
		Recipients: in.Recipients,
		Title:      in.Title,
		Body:       in.Body,
		Data:       in.Data,
		Sound:      sound,
		Priority:   priority,
		Badge:      in.Badge,
		TTL:        in.TTL,
		Expiration: in.Expiration,
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("%w: create notification: %w", ErrStoreUnavailable, err)
	}

	s.cacheStatus(ctx, stored.ID, StatusPending)

	return stored, nil
}

// CreateAndSchedule creates a notification and enqueues its delivery job.
// When enqueueing fails the stored record is returned together with the error.
func (s *Service) CreateAndSchedule(ctx context.Context, in model.CreateInput) (model.Notification, error) {
	n, err := s.Create(ctx, in)
	if err != nil {
		return model.Notification{}, err
	}

	if _, err := s.queue.Enqueue(ctx, n.ID); err != nil {
		return n, fmt.Errorf("schedule notification %s: %w", n.ID, err)
	}

	return n, nil
}

// CreateAndScheduleBatch persists every notification before the first job
// is enqueued. Nothing is stored when any input is invalid.
func (s *Service) CreateAndScheduleBatch(ctx context.Context, inputs []model.CreateInput) ([]model.Notification, error) {
	for i, in := range inputs {
		if err := s.validate.Struct(in); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrValidation, i, err)
		}
	}

	created := make([]model.Notification, 0, len(inputs))
	for _, in := range inputs {
		n, err := s.Create(ctx, in)
		if err != nil {
			return created, err
		}

		created = append(created, n)
	}

	var errs []error
	for _, n := range created {
		if _, err := s.queue.Enqueue(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("schedule notification %s: %w", n.ID, err))
		}
	}

	return created, errors.Join(errs...)
}

// Get returns the stored notification.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			return model.Notification{}, ErrNotFound
		}

		return model.Notification{}, fmt.Errorf("%w: get notification: %w", ErrStoreUnavailable, err)
	}

	return n, nil
}

// ListByUser returns up to limit notifications of the user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	list, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %w", ErrStoreUnavailable, err)
	}

	return list, nil
}

// Update patches sentAt, sendError or the read flag.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch model.Patch) (model.Notification, error) {
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	n, err := s.repo.UpdateByID(ctx, id, patch)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			return model.Notification{}, ErrNotFound
		}

		return model.Notification{}, fmt.Errorf("%w: update notification: %w", ErrStoreUnavailable, err)
	}

	if patch.SentAt != nil {
		s.cacheStatus(ctx, id, statusOf(n))
	}

	return n, nil
}

// MarkRead records the read receipt of a notification.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	read := true
	return s.Update(ctx, id, model.Patch{Read: &read})
}

// CachedStatus returns the cached delivery status, or an empty string when
// nothing is cached.
func (s *Service) CachedStatus(ctx context.Context, id uuid.UUID) string {
	if s.cache == nil {
		return ""
	}

	status, err := s.cache.GetWithRetry(ctx, s.strategy, statusKey(id))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("failed to get notification status from cache")
		}

		return ""
	}

	return status
}

// Send performs one delivery attempt of n.
//
// Only the caller that wins the store's delivery claim talks to the channels.
// Per-recipient failures are joined into sendError and sentAt is set even
// when every recipient failed. When a whole channel is unavailable the claim
// is released with sentAt left unset and the channel error is returned, so
// the job is retried.
func (s *Service) Send(ctx context.Context, n model.Notification) error {
	won, err := s.repo.ClaimDelivery(ctx, n.ID, s.lease)
	if err != nil {
		return fmt.Errorf("%w: claim notification: %w", ErrStoreUnavailable, err)
	}
	if !won {
		zlog.Logger.Debug().Err(ErrAlreadyClaimed).Str("id", n.ID.String()).Msg("skipping delivery")
		return nil
	}

	outcomes, chErr := s.deliver(ctx, n)
	if chErr == nil && ctx.Err() != nil {
		chErr = fmt.Errorf("%w: %w", channel.ErrChannelUnavailable, ctx.Err())
	}

	var (
		failures  []string
		delivered int
	)
	for _, o := range outcomes {
		if o.Err != nil {
			failures = append(failures, o.Err.Error())
			continue
		}
		delivered++
	}

	var sendError *string
	if len(failures) > 0 {
		joined := strings.Join(failures, "; ")
		sendError = &joined
	}

	// the attempt is persisted even if the caller is shutting down
	storeCtx := context.WithoutCancel(ctx)

	if chErr != nil {
		if err := s.repo.ReleaseClaim(storeCtx, n.ID, sendError); err != nil {
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to release delivery claim")
		}

		return fmt.Errorf("send notification %s: %w", n.ID, chErr)
	}

	sentAt := s.now().UTC()

	ok, err := s.repo.CompleteDelivery(storeCtx, n.ID, sentAt, sendError)
	if err != nil {
		return fmt.Errorf("%w: complete notification: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		zlog.Logger.Warn().Str("id", n.ID.String()).Msg("notification was completed by another sender")
		return nil
	}

	s.cacheStatus(storeCtx, n.ID, StatusAttempted)
	s.publish(model.Event{
		Type:           model.EventAttempted,
		NotificationID: n.ID,
		UserID:         n.UserID,
		SentAt:         &sentAt,
		SendError:      sendError,
		Delivered:      delivered,
		Failed:         len(failures),
		OccurredAt:     sentAt,
	})

	return nil
}

// Abandon records that the delivery job of id ran out of attempts. A
// notification that was already attempted is left untouched.
func (s *Service) Abandon(ctx context.Context, id uuid.UUID, attempts int, cause error) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return err
	}

	if n.Attempted() {
		return nil
	}

	msg := fmt.Sprintf("delivery abandoned after %d attempts: %v", attempts, cause)

	if err := s.repo.ReleaseClaim(ctx, id, &msg); err != nil {
		return fmt.Errorf("%w: abandon notification: %w", ErrStoreUnavailable, err)
	}

	s.publish(model.Event{
		Type:           model.EventAbandoned,
		NotificationID: id,
		UserID:         n.UserID,
		SendError:      &msg,
		Failed:         len(n.Recipients),
		OccurredAt:     s.now().UTC(),
	})

	return nil
}

// deliver runs every channel partition concurrently and returns one outcome
// per recipient, in recipient order.
func (s *Service) deliver(ctx context.Context, n model.Notification) ([]channel.Outcome, error) {
	outcomes := make([]channel.Outcome, len(n.Recipients))

	parts, rejected, positions := s.router.Partition(n.Recipients)
	for i, pos := range positions {
		outcomes[pos] = rejected[i]
	}

	chErrs := make([]error, len(parts))

	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results, err := s.sendPartition(ctx, n, part)
			chErrs[i] = err

			for j, pos := range part.Positions {
				recipient := part.Recipients[j]

				switch {
				case j < len(results) && results[j].Recipient == recipient:
					outcomes[pos] = results[j]
				case err != nil:
					outcomes[pos] = channel.Fail(recipient, err)
				default:
					outcomes[pos] = channel.Fail(recipient, errors.New("no outcome reported"))
				}
			}
		}()
	}
	wg.Wait()

	return outcomes, errors.Join(chErrs...)
}

func (s *Service) sendPartition(ctx context.Context, n model.Notification, part channel.Partition) (results []channel.Outcome, err error) {
	name := part.Channel.Name()

	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("%w: %s: panic: %v", channel.ErrChannelUnavailable, name, r)
		}
	}()

	batch := make([]channel.Message, len(part.Recipients))
	for i, recipient := range part.Recipients {
		batch[i] = channel.NewMessage(n, recipient)
	}

	results, err = part.Channel.Send(ctx, n.UserID, batch)
	if err != nil && !errors.Is(err, channel.ErrChannelUnavailable) {
		err = fmt.Errorf("%w: %s: %w", channel.ErrChannelUnavailable, name, err)
	}

	return results, err
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.SetWithRetry(ctx, s.strategy, statusKey(id), status); err != nil {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}
}

func (s *Service) publish(event model.Event) {
	if s.events == nil {
		return
	}

	if err := s.events.Publish(event); err != nil {
		zlog.Logger.Error().Err(err).Str("id", event.NotificationID.String()).Str("type", event.Type).Msg("failed to publish event")
	}
}

func statusKey(id uuid.UUID) string {
	return "notification:" + id.String() + ":status"
}

func statusOf(n model.Notification) string {
	if n.Attempted() {
		return StatusAttempted
	}

	return StatusPending
}
