package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/push-dispatcher/internal/model"
	notifsvc "github.com/aliskhannn/push-dispatcher/internal/service/notification"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/redis/handlers/notification/mock.go -package=mocks

type notificationService interface {
	Get(ctx context.Context, id uuid.UUID) (model.Notification, error)
	CachedStatus(ctx context.Context, id uuid.UUID) string
	Send(ctx context.Context, n model.Notification) error
	Abandon(ctx context.Context, id uuid.UUID, attempts int, cause error) error
}

// Handler processes delivery jobs taken from the queue.
type Handler struct {
	service notificationService
}

func NewHandler(svc notificationService) *Handler {
	return &Handler{service: svc}
}

// Handle delivers the notification referenced by the job. The record is
// always re-read from the store. A missing or already attempted notification
// completes the job without sending. Errors from Send are returned so the
// queue schedules a retry.
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	id := job.NotificationID

	if h.service.CachedStatus(ctx, id) == notifsvc.StatusAttempted {
		zlog.Logger.Debug().Str("id", id.String()).Msg("notification already attempted, skipping")
		return nil
	}

	n, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, notifsvc.ErrNotFound) {
			zlog.Logger.Info().Str("id", id.String()).Msg("notification no longer exists, skipping")
			return nil
		}

		return err
	}

	if n.Attempted() {
		zlog.Logger.Debug().Str("id", id.String()).Msg("notification already attempted, skipping")
		return nil
	}

	return h.service.Send(ctx, n)
}

// Exhausted is called once the job ran out of attempts.
func (h *Handler) Exhausted(ctx context.Context, job *model.Job, cause error) error {
	return h.service.Abandon(ctx, job.NotificationID, job.Attempt, cause)
}
