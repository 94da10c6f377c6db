package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

var ErrNotificationNotFound = errors.New("notification not found")

const notificationColumns = `id, user_id, recipients, title, body, data, sound, priority, badge,
		ttl, expiration, read, sent_at, send_error, claimed_at, created_at, updated_at`

// Repository provides methods to interact with notifications table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n    model.Notification
		data []byte
	)

	err := row.Scan(
		&n.ID, &n.UserID, pq.Array(&n.Recipients), &n.Title, &n.Body, &data, &n.Sound, &n.Priority, &n.Badge,
		&n.TTL, &n.Expiration, &n.Read, &n.SentAt, &n.SendError, &n.ClaimedAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if len(data) > 0 {
		n.Data = &model.Payload{}
		if err := json.Unmarshal(data, n.Data); err != nil {
			return model.Notification{}, fmt.Errorf("decode data: %w", err)
		}
	}

	return n, nil
}

// Create inserts a new notification and returns the stored record.
func (r *Repository) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    user_id, recipients, title, body, data, sound, priority, badge, ttl, expiration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + notificationColumns + `;
    `

	var data any
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return model.Notification{}, fmt.Errorf("encode data: %w", err)
		}
		data = raw
	}

	priority := n.Priority
	if priority == "" {
		priority = model.PriorityDefault
	}

	stored, err := scanNotification(r.db.Master.QueryRowContext(
		ctx, query, n.UserID, pq.Array(n.Recipients), n.Title, n.Body, data, n.Sound, priority, n.Badge, n.TTL, n.Expiration,
	))
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}

	return stored, nil
}

// FindByID retrieves a notification by its ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// ListByUser returns the user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2;
    `

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, nil
}

// UpdateByID applies the patch and returns the updated notification.
func (r *Repository) UpdateByID(ctx context.Context, id uuid.UUID, patch model.Patch) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET sent_at    = CASE WHEN $2::boolean THEN $3::timestamptz ELSE sent_at END,
		    send_error = CASE WHEN $4::boolean THEN $5::text ELSE send_error END,
		    read       = COALESCE($6::boolean, read),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + notificationColumns + `;
    `

	var (
		sentAt    *time.Time
		sendError *string
	)
	if patch.SentAt != nil {
		sentAt = *patch.SentAt
	}
	if patch.SendError != nil {
		sendError = *patch.SendError
	}

	n, err := scanNotification(r.db.Master.QueryRowContext(
		ctx, query, id, patch.SentAt != nil, sentAt, patch.SendError != nil, sendError, patch.Read,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to update notification: %w", err)
	}

	return n, nil
}

// ClaimDelivery marks the notification as being delivered by the caller.
//
// The claim succeeds only while sent_at is null and no other claim younger
// than lease exists. It reports whether the caller won.
func (r *Repository) ClaimDelivery(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	query := `
		UPDATE notifications
		SET claimed_at = now(), updated_at = now()
		WHERE id = $1
		  AND sent_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2));
    `

	res, err := r.db.ExecContext(ctx, query, id, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}

	return rows == 1, nil
}

// CompleteDelivery records a finished attempt. It reports false when sent_at
// was already set by someone else.
func (r *Repository) CompleteDelivery(ctx context.Context, id uuid.UUID, sentAt time.Time, sendError *string) (bool, error) {
	query := `
		UPDATE notifications
		SET sent_at = $2, send_error = $3, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND sent_at IS NULL;
    `

	res, err := r.db.ExecContext(ctx, query, id, sentAt, sendError)
	if err != nil {
		return false, fmt.Errorf("failed to complete notification: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to complete notification: %w", err)
	}

	return rows == 1, nil
}

// ReleaseClaim drops the delivery claim without marking the notification
// as attempted, keeping the last error for inspection.
func (r *Repository) ReleaseClaim(ctx context.Context, id uuid.UUID, sendError *string) error {
	query := `
		UPDATE notifications
		SET claimed_at = NULL, send_error = $2, updated_at = now()
		WHERE id = $1 AND sent_at IS NULL;
    `

	if _, err := r.db.ExecContext(ctx, query, id, sendError); err != nil {
		return fmt.Errorf("failed to release notification: %w", err)
	}

	return nil
}
