package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	mocks "github.com/aliskhannn/push-dispatcher/internal/mocks/worker"
	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/redis/queue"
)

func newJob(attempt int) *model.Job {
	id := uuid.New()
	return &model.Job{ID: id.String(), NotificationID: id, Attempt: attempt, MaxAttempts: 5}
}

// runUntil runs the dispatcher until done is closed and waits for it to stop.
func runUntil(t *testing.T, d *Dispatcher, done <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_CompletesHandledJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	handlerMock := mocks.NewMockjobHandler(ctrl)
	d := NewDispatcher(queueMock, handlerMock, 1, time.Millisecond)

	job := newJob(1)
	done := make(chan struct{})

	queueMock.EXPECT().Reserve(gomock.Any()).Return(job, nil)
	queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, queue.ErrNoJob).AnyTimes()
	handlerMock.EXPECT().Handle(gomock.Any(), job).Return(nil)
	queueMock.EXPECT().Complete(gomock.Any(), job).DoAndReturn(func(context.Context, *model.Job) error {
		close(done)
		return nil
	})

	runUntil(t, d, done)
}

func TestDispatcher_FailsJobOnHandlerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	handlerMock := mocks.NewMockjobHandler(ctrl)
	d := NewDispatcher(queueMock, handlerMock, 2, time.Millisecond)

	job := newJob(2)
	cause := errors.New("channel unavailable")
	done := make(chan struct{})

	queueMock.EXPECT().Reserve(gomock.Any()).Return(job, nil)
	queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, queue.ErrNoJob).AnyTimes()
	handlerMock.EXPECT().Handle(gomock.Any(), job).Return(cause)
	queueMock.EXPECT().Fail(gomock.Any(), job, cause).DoAndReturn(
		func(context.Context, *model.Job, error) (queue.FailResult, error) {
			close(done)
			return queue.FailResult{Attempt: 2, Delay: 2 * time.Minute}, nil
		})
	handlerMock.EXPECT().Exhausted(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	runUntil(t, d, done)
}

func TestDispatcher_ExhaustedJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	handlerMock := mocks.NewMockjobHandler(ctrl)
	d := NewDispatcher(queueMock, handlerMock, 1, time.Millisecond)

	job := newJob(5)
	cause := errors.New("channel unavailable")
	done := make(chan struct{})

	queueMock.EXPECT().Reserve(gomock.Any()).Return(job, nil)
	queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, queue.ErrNoJob).AnyTimes()
	handlerMock.EXPECT().Handle(gomock.Any(), job).Return(cause)
	queueMock.EXPECT().Fail(gomock.Any(), job, cause).Return(queue.FailResult{Attempt: 5, Final: true}, nil)
	handlerMock.EXPECT().Exhausted(gomock.Any(), job, cause).DoAndReturn(
		func(context.Context, *model.Job, error) error {
			close(done)
			return nil
		})

	runUntil(t, d, done)
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	handlerMock := mocks.NewMockjobHandler(ctrl)
	d := NewDispatcher(queueMock, handlerMock, 1, time.Millisecond)

	job := newJob(1)
	done := make(chan struct{})

	queueMock.EXPECT().Reserve(gomock.Any()).Return(job, nil)
	queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, queue.ErrNoJob).AnyTimes()
	handlerMock.EXPECT().Handle(gomock.Any(), job).Do(func(context.Context, *model.Job) {
		panic("nil map")
	})
	queueMock.EXPECT().Fail(gomock.Any(), job, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *model.Job, cause error) (queue.FailResult, error) {
			assert.ErrorContains(t, cause, "nil map")
			close(done)
			return queue.FailResult{Attempt: 1, Delay: time.Minute}, nil
		})

	runUntil(t, d, done)
}

func TestDispatcher_ReserveErrorKeepsPolling(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	handlerMock := mocks.NewMockjobHandler(ctrl)
	d := NewDispatcher(queueMock, handlerMock, 1, time.Millisecond)

	job := newJob(1)
	done := make(chan struct{})

	gomock.InOrder(
		queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, errors.New("redis: connection refused")),
		queueMock.EXPECT().Reserve(gomock.Any()).Return(job, nil),
	)
	queueMock.EXPECT().Reserve(gomock.Any()).Return(nil, queue.ErrNoJob).AnyTimes()
	handlerMock.EXPECT().Handle(gomock.Any(), job).Return(nil)
	queueMock.EXPECT().Complete(gomock.Any(), job).DoAndReturn(func(context.Context, *model.Job) error {
		close(done)
		return nil
	})

	runUntil(t, d, done)
}

func TestDispatcher_ReportStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	queueMock := mocks.NewMockjobQueue(ctrl)
	d := NewDispatcher(queueMock, nil, 1, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueMock.EXPECT().Counts(gomock.Any()).DoAndReturn(func(context.Context) (queue.Counts, error) {
		cancel()
		return queue.Counts{Waiting: 1}, nil
	}).MinTimes(1)

	stopped := make(chan struct{})
	go func() {
		d.ReportStats(ctx, time.Millisecond)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stats reporter did not stop")
	}
}
