package notification

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

var columns = []string{
	"id", "user_id", "recipients", "title", "body", "data", "sound", "priority", "badge",
	"ttl", "expiration", "read", "sent_at", "send_error", "claimed_at", "created_at", "updated_at",
}

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func TestCreate(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	userID := uuid.New()
	now := time.Now()
	n := model.Notification{
		UserID:     userID,
		Recipients: []string{"ExponentPushToken[a]", "ExponentPushToken[b]"},
		Title:      "Budget exceeded",
		Body:       "You spent more than planned",
		Data:       &model.Payload{Route: "/budgets", ButtonText: "Open"},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WithArgs(userID, sqlmock.AnyArg(), n.Title, n.Body, sqlmock.AnyArg(), nil, model.PriorityDefault, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), userID.String(), "{ExponentPushToken[a],ExponentPushToken[b]}", n.Title, n.Body,
			[]byte(`{"route":"/budgets","buttonText":"Open"}`), nil, "default", nil,
			nil, nil, false, nil, nil, nil, now, now,
		))

	stored, err := repo.Create(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, id, stored.ID)
	assert.Equal(t, n.Recipients, stored.Recipients)
	require.NotNil(t, stored.Data)
	assert.Equal(t, "/budgets", stored.Data.Route)
	assert.Equal(t, "Open", stored.Data.ButtonText)
	assert.False(t, stored.Read)
	assert.Nil(t, stored.SentAt)
	assert.Nil(t, stored.SendError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	sentAt := time.Now()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notifications WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), uuid.NewString(), "{tok}", "T", "B", nil, "default", "high", int64(3),
			int64(60), nil, true, sentAt, "tok: unsupported recipient format", nil, now, now,
		))

	n, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok"}, n.Recipients)
	assert.Equal(t, "high", n.Priority)
	require.NotNil(t, n.Badge)
	assert.Equal(t, 3, *n.Badge)
	require.NotNil(t, n.SentAt)
	require.NotNil(t, n.SendError)
	assert.Equal(t, "tok: unsupported recipient format", *n.SendError)
	assert.Nil(t, n.Data)
	assert.True(t, n.Read)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(regexp.QuoteMeta(`FROM notifications WHERE id = $1`)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	repo, mock := setupMockDB(t)

	userID := uuid.New()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC`)).
		WithArgs(userID, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(first.String(), userID.String(), "{tok-a}", "New", "B", nil, "default", "default", nil,
				nil, nil, false, nil, nil, nil, newer, newer).
			AddRow(second.String(), userID.String(), "{tok-b}", "Old", "B", nil, "default", "default", nil,
				nil, nil, true, older, nil, nil, older, older))

	list, err := repo.ListByUser(context.Background(), userID, 20)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	assert.True(t, list[1].Read)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC`)).
		WithArgs(userID, 20).
		WillReturnError(errors.New("connection refused"))

	_, err = repo.ListByUser(context.Background(), userID, 20)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()
	read := true

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE notifications`)).
		WithArgs(id, false, nil, false, nil, true).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), uuid.NewString(), "{tok}", "T", "B", nil, nil, "default", nil,
			nil, nil, true, nil, nil, nil, now, now,
		))

	n, err := repo.UpdateByID(context.Background(), id, model.Patch{Read: &read})
	require.NoError(t, err)
	assert.True(t, n.Read)
	assert.Nil(t, n.Sound)
	assert.NoError(t, mock.ExpectationsWereMet())

	var cleared *time.Time
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE notifications`)).
		WithArgs(id, true, nil, false, nil, nil).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.UpdateByID(context.Background(), id, model.Patch{SentAt: &cleared})
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDelivery(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`SET claimed_at = now()`)).
		WithArgs(id, float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.ClaimDelivery(context.Background(), id, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	mock.ExpectExec(regexp.QuoteMeta(`SET claimed_at = now()`)).
		WithArgs(id, float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err = repo.ClaimDelivery(context.Background(), id, 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	mock.ExpectExec(regexp.QuoteMeta(`SET claimed_at = now()`)).
		WithArgs(id, float64(120)).
		WillReturnError(errors.New("connection refused"))

	_, err = repo.ClaimDelivery(context.Background(), id, 2*time.Minute)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDelivery(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	sentAt := time.Now()
	sendErr := "tok-malformed: unsupported recipient format"

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND sent_at IS NULL`)).
		WithArgs(id, sentAt, sendErr).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.CompleteDelivery(context.Background(), id, sentAt, &sendErr)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND sent_at IS NULL`)).
		WithArgs(id, sentAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.CompleteDelivery(context.Background(), id, sentAt, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseClaim(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	sendErr := "expo: service unavailable"

	mock.ExpectExec(regexp.QuoteMeta(`SET claimed_at = NULL, send_error = $2`)).
		WithArgs(id, sendErr).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ReleaseClaim(context.Background(), id, &sendErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}
