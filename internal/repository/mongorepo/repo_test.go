package mongorepo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/repository/notification"
)

func TestDocumentRoundTrip(t *testing.T) {
	sound := model.SoundDefault
	badge := 2
	sentAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	n := model.Notification{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Recipients: []string{"ExponentPushToken[x]"},
		Title:      "T",
		Body:       "B",
		Data:       &model.Payload{Route: "/notes", Params: map[string]any{"id": "42"}},
		Sound:      &sound,
		Priority:   model.PriorityHigh,
		Badge:      &badge,
		SentAt:     &sentAt,
	}

	got, err := toDocument(n).toModel()
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestDocumentToModel_BadID(t *testing.T) {
	_, err := document{ID: "not-a-uuid", UserID: uuid.NewString()}.toModel()
	assert.Error(t, err)
}

// newTestRepository connects to MONGO_TEST_URI; the test is skipped without it.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI is not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	coll := client.Database("push_dispatcher_test").Collection("notifications_" + uuid.NewString()[:8])
	t.Cleanup(func() { _ = coll.Drop(context.Background()) })

	repo := NewRepository(coll)
	require.NoError(t, repo.EnsureIndexes(context.Background()))

	return repo
}

func TestRepository_Lifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Notification{
		UserID:     uuid.New(),
		Recipients: []string{"ExponentPushToken[x]"},
		Title:      "T",
		Body:       "B",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityDefault, created.Priority)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.ClaimDelivery(ctx, created.ID, time.Minute)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	ok, err := repo.CompleteDelivery(ctx, created.ID, time.Now(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompleteDelivery(ctx, created.ID, time.Now(), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	read := true
	updated, err := repo.UpdateByID(ctx, created.ID, model.Patch{Read: &read})
	require.NoError(t, err)
	assert.True(t, updated.Read)
	assert.NotNil(t, updated.SentAt)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, notification.ErrNotificationNotFound)
}

func TestRepository_ListByUser(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := uuid.New()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		repo.now = func() time.Time { return start.Add(time.Duration(i) * time.Minute) }

		_, err := repo.Create(ctx, model.Notification{UserID: userID, Recipients: []string{"tok"}, Title: title, Body: "B"})
		require.NoError(t, err)
	}

	_, err := repo.Create(ctx, model.Notification{UserID: uuid.New(), Recipients: []string{"tok"}, Title: "other", Body: "B"})
	require.NoError(t, err)

	list, err := repo.ListByUser(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Title)
	assert.Equal(t, "second", list[1].Title)
}

func TestSubscriptionRepository(t *testing.T) {
	notifications := newTestRepository(t)
	coll := notifications.coll.Database().Collection(notifications.coll.Name() + "_subs")
	t.Cleanup(func() { _ = coll.Drop(context.Background()) })

	repo := NewSubscriptionRepository(coll)
	ctx := context.Background()
	userID := uuid.New()

	_, err := coll.InsertMany(ctx, []any{
		subscriptionDoc{ID: uuid.NewString(), UserID: userID.String(), Endpoint: "https://push.example/a", CreatedAt: time.Now()},
		subscriptionDoc{ID: uuid.NewString(), UserID: uuid.NewString(), Endpoint: "https://push.example/b", CreatedAt: time.Now()},
	})
	require.NoError(t, err)

	subs, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/a", subs[0].Endpoint)

	require.NoError(t, repo.DeleteByEndpoint(ctx, userID, "https://push.example/a"))

	subs, err = repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}
