package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	mocks "github.com/aliskhannn/push-dispatcher/internal/mocks/redis/handlers/notification"
	"github.com/aliskhannn/push-dispatcher/internal/model"
	notifsvc "github.com/aliskhannn/push-dispatcher/internal/service/notification"
)

func newJob() *model.Job {
	return &model.Job{ID: "job", NotificationID: uuid.New(), Attempt: 1, MaxAttempts: 5}
}

func TestHandler_Handle_Sends(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()
	n := model.Notification{ID: job.NotificationID, Recipients: []string{"tok"}}

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return(notifsvc.StatusPending)
	svcMock.EXPECT().Get(gomock.Any(), job.NotificationID).Return(n, nil)
	svcMock.EXPECT().Send(gomock.Any(), n).Return(nil)

	assert.NoError(t, h.Handle(context.Background(), job))
}

func TestHandler_Handle_PropagatesSendError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()
	sendErr := errors.New("channel unavailable")

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return("")
	svcMock.EXPECT().Get(gomock.Any(), job.NotificationID).Return(model.Notification{ID: job.NotificationID}, nil)
	svcMock.EXPECT().Send(gomock.Any(), gomock.Any()).Return(sendErr)

	assert.ErrorIs(t, h.Handle(context.Background(), job), sendErr)
}

func TestHandler_Handle_AlreadyAttempted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()
	sentAt := time.Now()

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return("")
	svcMock.EXPECT().Get(gomock.Any(), job.NotificationID).Return(model.Notification{ID: job.NotificationID, SentAt: &sentAt}, nil)
	svcMock.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	assert.NoError(t, h.Handle(context.Background(), job))
}

func TestHandler_Handle_CachedAttempted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return(notifsvc.StatusAttempted)

	assert.NoError(t, h.Handle(context.Background(), job))
}

func TestHandler_Handle_Missing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return("")
	svcMock.EXPECT().Get(gomock.Any(), job.NotificationID).Return(model.Notification{}, notifsvc.ErrNotFound)

	assert.NoError(t, h.Handle(context.Background(), job))
}

func TestHandler_Handle_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()

	svcMock.EXPECT().CachedStatus(gomock.Any(), job.NotificationID).Return("")
	svcMock.EXPECT().Get(gomock.Any(), job.NotificationID).Return(model.Notification{}, notifsvc.ErrStoreUnavailable)

	assert.ErrorIs(t, h.Handle(context.Background(), job), notifsvc.ErrStoreUnavailable)
}

func TestHandler_Exhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svcMock := mocks.NewMocknotificationService(ctrl)
	h := NewHandler(svcMock)

	job := newJob()
	job.Attempt = 5
	cause := errors.New("channel unavailable")

	svcMock.EXPECT().Abandon(gomock.Any(), job.NotificationID, 5, cause).Return(nil)

	assert.NoError(t, h.Exhausted(context.Background(), job, cause))
}
