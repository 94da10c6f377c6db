// Package mongorepo stores notifications as MongoDB documents.
//
// It satisfies the same contract as the PostgreSQL repository, including the
// conditional delivery claim, so the service can run on either backend.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/repository/notification"
)

// Repository provides methods to interact with the notifications collection.
type Repository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewRepository creates a new document-backed notification repository.
func NewRepository(coll *mongo.Collection) *Repository {
	return &Repository{coll: coll, now: time.Now}
}

// EnsureIndexes creates the indexes the repository relies on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sent_at", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Create inserts a new notification and returns the stored record.
func (r *Repository) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	now := r.now().UTC()

	n.ID = uuid.New()
	n.Read = false
	n.SentAt = nil
	n.SendError = nil
	n.ClaimedAt = nil
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Priority == "" {
		n.Priority = model.PriorityDefault
	}

	if _, err := r.coll.InsertOne(ctx, toDocument(n)); err != nil {
		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}

	return n, nil
}

// FindByID retrieves a notification by its ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	var doc document

	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Notification{}, notification.ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return doc.toModel()
}

// ListByUser returns the user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}

	notifications := make([]model.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := d.toModel()
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, nil
}

// UpdateByID applies the patch and returns the updated notification.
func (r *Repository) UpdateByID(ctx context.Context, id uuid.UUID, patch model.Patch) (model.Notification, error) {
	set := bson.M{"updated_at": r.now().UTC()}
	unset := bson.M{}

	if patch.SentAt != nil {
		if *patch.SentAt == nil {
			unset["sent_at"] = ""
		} else {
			set["sent_at"] = (*patch.SentAt).UTC()
		}
	}
	if patch.SendError != nil {
		if *patch.SendError == nil {
			unset["send_error"] = ""
		} else {
			set["send_error"] = **patch.SendError
		}
	}
	if patch.Read != nil {
		set["read"] = *patch.Read
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var doc document
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Notification{}, notification.ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to update notification: %w", err)
	}

	return doc.toModel()
}

// ClaimDelivery marks the notification as being delivered by the caller.
// It reports whether the caller won the claim.
func (r *Repository) ClaimDelivery(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	now := r.now().UTC()

	filter := bson.M{
		"_id":     id.String(),
		"sent_at": nil,
		"$or": bson.A{
			bson.M{"claimed_at": nil},
			bson.M{"claimed_at": bson.M{"$lt": now.Add(-lease)}},
		},
	}
	update := bson.M{"$set": bson.M{"claimed_at": now, "updated_at": now}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}

	return res.ModifiedCount == 1, nil
}

// CompleteDelivery records a finished attempt. It reports false when sent_at
// was already set by someone else.
func (r *Repository) CompleteDelivery(ctx context.Context, id uuid.UUID, sentAt time.Time, sendError *string) (bool, error) {
	set := bson.M{"sent_at": sentAt.UTC(), "updated_at": r.now().UTC()}
	unset := bson.M{"claimed_at": ""}
	if sendError != nil {
		set["send_error"] = *sendError
	} else {
		unset["send_error"] = ""
	}

	filter := bson.M{"_id": id.String(), "sent_at": nil}

	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set, "$unset": unset})
	if err != nil {
		return false, fmt.Errorf("failed to complete notification: %w", err)
	}

	return res.ModifiedCount == 1, nil
}

// ReleaseClaim drops the delivery claim without marking the notification
// as attempted, keeping the last error for inspection.
func (r *Repository) ReleaseClaim(ctx context.Context, id uuid.UUID, sendError *string) error {
	set := bson.M{"updated_at": r.now().UTC()}
	unset := bson.M{"claimed_at": ""}
	if sendError != nil {
		set["send_error"] = *sendError
	} else {
		unset["send_error"] = ""
	}

	filter := bson.M{"_id": id.String(), "sent_at": nil}

	if _, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set, "$unset": unset}); err != nil {
		return fmt.Errorf("failed to release notification: %w", err)
	}

	return nil
}
