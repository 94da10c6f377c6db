package mongorepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

type subscriptionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Endpoint  string    `bson:"endpoint"`
	P256dh    string    `bson:"p256dh"`
	Auth      string    `bson:"auth"`
	CreatedAt time.Time `bson:"created_at"`
}

// SubscriptionRepository reads browser push subscriptions from a collection.
type SubscriptionRepository struct {
	coll *mongo.Collection
}

func NewSubscriptionRepository(coll *mongo.Collection) *SubscriptionRepository {
	return &SubscriptionRepository{coll: coll}
}

// ListByUser returns every subscription registered by the user.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Subscription, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var docs []subscriptionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}

	subs := make([]model.Subscription, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("decode subscription id: %w", err)
		}

		subs = append(subs, model.Subscription{
			ID:        id,
			UserID:    userID,
			Endpoint:  d.Endpoint,
			P256dh:    d.P256dh,
			Auth:      d.Auth,
			CreatedAt: d.CreatedAt,
		})
	}

	return subs, nil
}

// DeleteByEndpoint removes a subscription the push service reported as gone.
func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"user_id": userID.String(), "endpoint": endpoint})
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	return nil
}
