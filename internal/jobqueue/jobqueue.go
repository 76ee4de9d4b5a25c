/*
Package jobqueue provides a River-based job queue for the conversation
pipeline: classify jobs produced by ingestion, send jobs produced by the
action inbox and the sweep, and sweep jobs produced by the cron scheduler.

Workers receive the queue handle at construction; nothing reaches for an
ambient client.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// Enqueuer is the narrow handle entrypoints and workers use to queue work.
// Split from Queue so tests can substitute a fake.
type Enqueuer interface {
	EnqueueClassify(ctx context.Context, threadID string) error
	EnqueueSend(ctx context.Context, args SendArgs, delay time.Duration) error
	EnqueueSweep(ctx context.Context, args SweepArgs) error
}

// Queue manages the River job queue
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewQueue creates a new queue instance. The workers set must already have
// every worker registered; River validates kinds at construction.
func NewQueue(pool *pgxpool.Pool, config *QueueConfig, workers *river.Workers) (*Queue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// NewInsertOnlyQueue creates a queue handle that can enqueue jobs but runs no
// workers. Used by one-shot CLI commands.
func NewInsertOnlyQueue(pool *pgxpool.Pool, config *QueueConfig) (*Queue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create insert-only River client: %w", err)
	}
	return &Queue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop stops the job queue workers
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Config returns the queue configuration.
func (q *Queue) Config() *QueueConfig { return q.config }

// EnqueueClassify queues a classification job for a thread.
func (q *Queue) EnqueueClassify(ctx context.Context, threadID string) error {
	_, err := q.client.Insert(ctx, ClassifyArgs{ThreadID: threadID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue classify job: %w", err)
	}
	return nil
}

// EnqueueSend queues a send job, optionally delayed. Delayed jobs are
// guaranteed to run no earlier than the delay but may run later under load.
func (q *Queue) EnqueueSend(ctx context.Context, args SendArgs, delay time.Duration) error {
	var opts *river.InsertOpts
	if delay > 0 {
		opts = &river.InsertOpts{ScheduledAt: time.Now().Add(delay)}
	}
	_, err := q.client.Insert(ctx, args, opts)
	if err != nil {
		return fmt.Errorf("failed to queue send job: %w", err)
	}
	return nil
}

// EnqueueSweep queues a sweep job for a user.
func (q *Queue) EnqueueSweep(ctx context.Context, args SweepArgs) error {
	_, err := q.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue sweep job: %w", err)
	}
	return nil
}
