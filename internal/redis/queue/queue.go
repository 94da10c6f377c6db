// Package queue implements the delivery job queue on Redis.
//
// A job moves from the wait list to the active set when a worker reserves
// it. Completed jobs are deleted. Failed jobs wait in the delayed set for
// their backoff to elapse, and jobs that ran out of attempts are kept in the
// failed set for inspection. Active jobs whose lease expires are returned to
// the wait list on the next reservation, until a job has stalled more than
// the allowed number of times and is moved to the failed set. Every
// reservation carries a lease token; acks with an outdated token are refused.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/aliskhannn/push-dispatcher/internal/model"
)

var (
	ErrNoJob        = errors.New("no job ready")
	ErrJobNotActive = errors.New("job is not active")
	ErrJobNotFound  = errors.New("job not found")
)

const (
	DefaultAttempts    = 5
	DefaultBackoffBase = 60 * time.Second
	DefaultLease       = 5 * time.Minute
	DefaultMaxStalled  = 1
)

// Backoff returns the delay scheduled after the given failed attempt:
// base × 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return base << (attempt - 1)
}

// Options tunes a Queue. Zero values select the defaults.
type Options struct {
	Attempts    int
	BackoffBase time.Duration
	Lease       time.Duration
	MaxStalled  int // lease expiries tolerated before the job fails for good
}

// FailResult describes what happened to a failed job.
type FailResult struct {
	Attempt int           // attempt that failed
	Final   bool          // the job moved to the failed set
	Delay   time.Duration // backoff before the next attempt
}

// Counts is a snapshot of the number of jobs in each state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
}

// FailedJob is a job retained after exhausting its attempts.
type FailedJob struct {
	ID             string    `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	FailedAt       time.Time `json:"failed_at"`
}

// Queue is a Redis backed delivery job queue.
type Queue struct {
	rdb         redis.UniversalClient
	prefix      string
	attempts    int
	backoffBase time.Duration
	lease       time.Duration
	maxStalled  int
	now         func() time.Time
}

// New creates a queue whose keys are prefixed with name.
func New(rdb redis.UniversalClient, name string, opts Options) *Queue {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.MaxStalled <= 0 {
		opts.MaxStalled = DefaultMaxStalled
	}

	return &Queue{
		rdb:         rdb,
		prefix:      name + ":",
		attempts:    opts.Attempts,
		backoffBase: opts.BackoffBase,
		lease:       opts.Lease,
		maxStalled:  opts.MaxStalled,
		now:         time.Now,
	}
}

func (q *Queue) key(name string) string { return q.prefix + name }

func (q *Queue) jobKey(id string) string { return q.prefix + "job:" + id }

func (q *Queue) nowMs() int64 { return q.now().UnixMilli() }

// Enqueue adds the delivery job of a notification. The job id is the
// notification id, so a notification has at most one live job; enqueueing
// it again is a no-op reported as false. A retained failed job is re-driven.
func (q *Queue) Enqueue(ctx context.Context, notificationID uuid.UUID) (bool, error) {
	payload, err := model.EncodeJobPayload(notificationID)
	if err != nil {
		return false, err
	}

	id := notificationID.String()

	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("wait"), q.key("failed")},
		id, payload, q.attempts, q.nowMs(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	return added == 1, nil
}

// Reserve leases the next ready job. It returns ErrNoJob when nothing is
// ready. Jobs with an unreadable payload are moved to the failed set.
func (q *Queue) Reserve(ctx context.Context) (*model.Job, error) {
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("active"), q.key("delayed"), q.key("failed")},
		q.prefix+"job:", q.nowMs(), q.lease.Milliseconds(), q.maxStalled,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}

		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}

	id, _ := res[0].(string)
	raw, _ := res[1].(string)
	token, _ := res[4].(int64)

	payload, err := model.DecodeJobPayload([]byte(raw))
	if err != nil {
		if buryErr := q.bury(ctx, id, token, err); buryErr != nil {
			return nil, errors.Join(err, buryErr)
		}

		return nil, fmt.Errorf("job %s: %w", id, err)
	}

	attempts := atoi(res[2])
	maxAttempts := atoi(res[3])
	if maxAttempts == 0 {
		maxAttempts = q.attempts
	}

	return &model.Job{
		ID:             id,
		NotificationID: payload.NotificationID,
		Attempt:        attempts + 1,
		MaxAttempts:    maxAttempts,
		Token:          token,
	}, nil
}

// Complete removes a finished job and counts it as completed. It returns
// ErrJobNotActive when the job's lease was lost to another reservation.
func (q *Queue) Complete(ctx context.Context, job *model.Job) error {
	ok, err := completeScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("completed"), q.jobKey(job.ID)},
		job.ID, job.Token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	if ok == 0 {
		return fmt.Errorf("complete job %s: %w", job.ID, ErrJobNotActive)
	}

	return nil
}

// Fail records a failed attempt. The job is scheduled for another attempt
// after its backoff, or moved to the failed set when no attempts are left.
func (q *Queue) Fail(ctx context.Context, job *model.Job, cause error) (FailResult, error) {
	return q.fail(ctx, job, cause, false)
}

func (q *Queue) bury(ctx context.Context, id string, token int64, cause error) error {
	_, err := q.fail(ctx, &model.Job{ID: id, Attempt: 1, Token: token}, cause, true)
	return err
}

func (q *Queue) fail(ctx context.Context, job *model.Job, cause error, final bool) (FailResult, error) {
	delay := Backoff(q.backoffBase, job.Attempt)

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	force := "0"
	if final {
		force = "1"
	}

	attempt, err := failScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("delayed"), q.key("failed"), q.jobKey(job.ID)},
		job.ID, q.nowMs(), delay.Milliseconds(), msg, force, job.Token,
	).Int()
	if err != nil {
		return FailResult{}, fmt.Errorf("failed to fail job %s: %w", job.ID, err)
	}

	switch {
	case attempt < 0:
		return FailResult{}, fmt.Errorf("fail job %s: %w", job.ID, ErrJobNotActive)
	case attempt == 0:
		return FailResult{Attempt: job.Attempt, Final: true}, nil
	default:
		return FailResult{Attempt: attempt, Delay: delay}, nil
	}
}

// Counts returns the number of jobs in each state. It does not modify the
// queue.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var (
		waiting, active, delayed, failed *redis.IntCmd
		completed                        *redis.StringCmd
	)

	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.key("wait"))
		active = p.ZCard(ctx, q.key("active"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		failed = p.ZCard(ctx, q.key("failed"))
		completed = p.Get(ctx, q.key("completed"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	c := Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}

	if n, err := completed.Int64(); err == nil {
		c.Completed = n
	}

	return c, nil
}

// FailedJobs returns up to limit retained failed jobs, most recent first.
func (q *Queue) FailedJobs(ctx context.Context, limit int64) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := q.rdb.ZRevRange(ctx, q.key("failed"), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]FailedJob, 0, len(ids))
	for _, id := range ids {
		fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get job %s: %w", id, err)
		}

		job := FailedJob{
			ID:        id,
			Attempts:  atoi(fields["attempts"]),
			LastError: fields["last_error"],
		}

		if payload, err := model.DecodeJobPayload([]byte(fields["payload"])); err == nil {
			job.NotificationID = payload.NotificationID
		}
		if ms, err := strconv.ParseInt(fields["failed_at"], 10, 64); err == nil {
			job.FailedAt = time.UnixMilli(ms).UTC()
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Retry moves a retained failed job back to the wait list with a fresh
// attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	ok, err := retryScript.Run(ctx, q.rdb,
		[]string{q.key("failed"), q.key("wait"), q.jobKey(id)},
		id,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", id, err)
	}

	if ok == 0 {
		return fmt.Errorf("retry job %s: %w", id, ErrJobNotFound)
	}

	return nil
}

func atoi(v any) int {
	s, _ := v.(string)
	n, _ := strconv.Atoi(s)

	return n
}
