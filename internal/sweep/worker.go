// Package sweep nudges conversations the prospect has gone quiet on. A sweep
// job scans one user's waiting threads: below the follow-up cap it queues an
// automated follow-up send, at the cap it hands the thread back to the human
// with an exhaustion record. The sweep itself never sends and never drafts.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

// Store is the slice of the persistence layer the sweep needs. *store.Store
// satisfies it; tests supply in-memory fakes.
type Store interface {
	ListStaleAwaitingProspect(ctx context.Context, userID string, cutoff time.Time) ([]store.Thread, error)
	CountActions(ctx context.Context, threadID, kind string) (int, error)
	SetThreadStatus(ctx context.Context, threadID string, status store.ThreadStatus) error
	AppendAction(ctx context.Context, a *store.Action) error
}

// PolicyReader loads the effective policy for a user.
type PolicyReader interface {
	Get(ctx context.Context, userID string) (policy.Policy, error)
}

// Worker consumes sweep jobs.
type Worker struct {
	river.WorkerDefaults[jobqueue.SweepArgs]

	store    Store
	policies PolicyReader
	queue    jobqueue.Enqueuer
	locks    *jobqueue.ThreadLocks
	config   *jobqueue.QueueConfig
	logger   zerolog.Logger
}

// NewWorker creates the sweep worker.
func NewWorker(st Store, policies PolicyReader, queue jobqueue.Enqueuer, locks *jobqueue.ThreadLocks, cfg *jobqueue.QueueConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		store:    st,
		policies: policies,
		queue:    queue,
		locks:    locks,
		config:   cfg,
		logger:   logger.With().Str("worker", "sweep").Logger(),
	}
}

// Timeout bounds a single attempt.
func (w *Worker) Timeout(*river.Job[jobqueue.SweepArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work scans one user's stale threads. Per-thread outcomes are independent: a
// failure on one thread is logged and the scan continues, so a single bad row
// cannot starve the rest of the user's queue.
func (w *Worker) Work(ctx context.Context, job *river.Job[jobqueue.SweepArgs]) error {
	args := job.Args

	pol, err := w.policies.Get(ctx, args.UserID)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-time.Duration(args.LookbackHours) * time.Hour)
	threads, err := w.store.ListStaleAwaitingProspect(ctx, args.UserID, cutoff)
	if err != nil {
		return err
	}

	var nudged, exhausted int
	for _, t := range threads {
		outcome, err := w.sweepThread(ctx, t, pol)
		if err != nil {
			w.logger.Error().Err(err).Str("thread_id", t.ID).Msg("failed to sweep thread")
			continue
		}
		switch outcome {
		case outcomeNudged:
			nudged++
		case outcomeExhausted:
			exhausted++
		}
	}

	w.logger.Info().
		Str("user_id", args.UserID).
		Int("scanned", len(threads)).
		Int("nudged", nudged).
		Int("exhausted", exhausted).
		Msg("sweep complete")
	return nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeNudged
	outcomeExhausted
)

func (w *Worker) sweepThread(ctx context.Context, t store.Thread, pol policy.Policy) (outcome, error) {
	release, err := w.locks.TryLock(t.ID)
	var busy *jobqueue.ErrThreadBusy
	if errors.As(err, &busy) {
		// Another worker is mid-mutation; the next sweep pass picks it up.
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	defer release()

	sent, err := w.store.CountActions(ctx, t.ID, store.ActionFollowupSent)
	if err != nil {
		return outcomeSkipped, err
	}

	if sent >= pol.Limits.MaxFollowups {
		if err := w.store.SetThreadStatus(ctx, t.ID, store.StatusAwaitingHuman); err != nil {
			return outcomeSkipped, err
		}
		action := &store.Action{
			ThreadID: t.ID,
			Kind:     store.ActionFollowupsExhausted,
			Note:     "follow-up budget exhausted, needs a human decision",
		}
		if err := w.store.AppendAction(ctx, action); err != nil {
			return outcomeSkipped, err
		}
		return outcomeExhausted, nil
	}

	args := jobqueue.SendArgs{
		ThreadID: t.ID,
		SendKind: jobqueue.SendKindFollowup,
		Origin:   jobqueue.OriginSweep,
	}
	if err := w.queue.EnqueueSend(ctx, args, 0); err != nil {
		return outcomeSkipped, err
	}
	return outcomeNudged, nil
}
