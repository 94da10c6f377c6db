package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/push-dispatcher/internal/model"
	"github.com/aliskhannn/push-dispatcher/internal/redis/queue"
)

//go:generate mockgen -source=dispatcher.go -destination=../mocks/worker/mock.go -package=mocks

type jobQueue interface {
	Reserve(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, job *model.Job) error
	Fail(ctx context.Context, job *model.Job, cause error) (queue.FailResult, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

type jobHandler interface {
	Handle(ctx context.Context, job *model.Job) error
	Exhausted(ctx context.Context, job *model.Job, cause error) error
}

const DefaultPollInterval = time.Second

// Dispatcher runs a fixed pool of workers pulling delivery jobs from the queue.
type Dispatcher struct {
	queue        jobQueue
	handler      jobHandler
	workers      int
	pollInterval time.Duration
}

func NewDispatcher(q jobQueue, h jobHandler, workers int, pollInterval time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Dispatcher{
		queue:        q,
		handler:      h,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled and every in-flight job has been acked.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < d.workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)
			d.work(ctx)
			zlog.Logger.Printf("worker-%d shutting down", id)
		}(i)
	}

	wg.Wait()
	zlog.Logger.Print("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := d.queue.Reserve(ctx)
		if err != nil {
			if errors.Is(err, model.ErrInvalidJobPayload) {
				zlog.Logger.Warn().Err(err).Msg("discarded malformed job")
				continue
			}

			if !errors.Is(err, queue.ErrNoJob) && ctx.Err() == nil {
				zlog.Logger.Error().Err(err).Msg("failed to reserve job")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}

			continue
		}

		d.process(ctx, job)
	}
}

func (d *Dispatcher) process(ctx context.Context, job *model.Job) {
	err := d.handle(ctx, job)

	// acks must reach the queue even while shutting down
	ackCtx := context.WithoutCancel(ctx)

	if err == nil {
		if err := d.queue.Complete(ackCtx, job); err != nil {
			zlog.Logger.Error().Err(err).Str("job", job.ID).Msg("failed to complete job")
		}

		return
	}

	zlog.Logger.Warn().Err(err).
		Str("job", job.ID).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Msg("delivery job failed")

	res, failErr := d.queue.Fail(ackCtx, job, err)
	if failErr != nil {
		zlog.Logger.Error().Err(failErr).Str("job", job.ID).Msg("failed to record job failure")
		return
	}

	if !res.Final {
		zlog.Logger.Info().Str("job", job.ID).Dur("delay", res.Delay).Msg("delivery retry scheduled")
		return
	}

	zlog.Logger.Error().Err(err).Str("job", job.ID).Int("attempts", res.Attempt).Msg("delivery job exhausted")

	if err := d.handler.Exhausted(ackCtx, job, err); err != nil {
		zlog.Logger.Error().Err(err).Str("job", job.ID).Msg("failed to record exhausted job")
	}
}

func (d *Dispatcher) handle(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return d.handler.Handle(ctx, job)
}

// ReportStats logs the queue counts every interval until ctx is cancelled.
func (d *Dispatcher) ReportStats(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := d.queue.Counts(ctx)
			if err != nil {
				if ctx.Err() == nil {
					zlog.Logger.Error().Err(err).Msg("failed to get queue counts")
				}
				continue
			}

			zlog.Logger.Info().
				Int64("waiting", counts.Waiting).
				Int64("active", counts.Active).
				Int64("delayed", counts.Delayed).
				Int64("failed", counts.Failed).
				Int64("completed", counts.Completed).
				Msg("queue stats")
		}
	}
}
