package subscription

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(&dbpg.DB{Master: db}), mock
}

func TestListByUser(t *testing.T) {
	repo, mock := setupMockDB(t)

	userID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "endpoint", "p256dh", "auth", "created_at"}).
		AddRow(uuid.NewString(), userID.String(), "https://push.example.com/a", "key-a", "auth-a", now).
		AddRow(uuid.NewString(), userID.String(), "https://push.example.com/b", "key-b", "auth-b", now)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM push_subscriptions`)).
		WithArgs(userID).
		WillReturnRows(rows)

	subs, err := repo.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "https://push.example.com/a", subs[0].Endpoint)
	assert.Equal(t, "auth-b", subs[1].Auth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser_Error(t *testing.T) {
	repo, mock := setupMockDB(t)

	userID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM push_subscriptions`)).
		WithArgs(userID).
		WillReturnError(errors.New("db down"))

	_, err := repo.ListByUser(context.Background(), userID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByEndpoint(t *testing.T) {
	repo, mock := setupMockDB(t)

	userID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM push_subscriptions`)).
		WithArgs(userID, "https://push.example.com/a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteByEndpoint(context.Background(), userID, "https://push.example.com/a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
