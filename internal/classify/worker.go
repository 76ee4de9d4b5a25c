package classify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

// Store is the slice of the persistence layer classification touches.
// *store.Store satisfies it; tests supply in-memory fakes.
type Store interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	LatestInbound(ctx context.Context, threadID string) (*store.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]store.Message, error)
	AppendAction(ctx context.Context, a *store.Action) error
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	DeleteDraftsTx(ctx context.Context, tx *sql.Tx, threadID string) error
	AppendMessageTx(ctx context.Context, tx *sql.Tx, m *store.Message) error
}

// PolicyReader loads the effective policy for a user.
type PolicyReader interface {
	Get(ctx context.Context, userID string) (policy.Policy, error)
}

// Worker consumes classify jobs. It holds the thread lock across its
// read-classify-write cycle, persists drafts, and records scheduling intent.
// Thread status is never touched here: the thread arrived awaiting_human and
// stays that way until a human acts.
type Worker struct {
	river.WorkerDefaults[jobqueue.ClassifyArgs]

	store      Store
	policies   PolicyReader
	classifier Classifier
	locks      *jobqueue.ThreadLocks
	config     *jobqueue.QueueConfig
	logger     zerolog.Logger
}

// NewWorker creates the classification worker.
func NewWorker(st Store, policies PolicyReader, classifier Classifier, locks *jobqueue.ThreadLocks, config *jobqueue.QueueConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		store:      st,
		policies:   policies,
		classifier: classifier,
		locks:      locks,
		config:     config,
		logger:     logger.With().Str("worker", "classify").Logger(),
	}
}

// Timeout bounds a single attempt.
func (w *Worker) Timeout(*river.Job[jobqueue.ClassifyArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work classifies the thread's latest inbound message and persists the
// resulting drafts. Errors are retried by the queue; on the final attempt the
// failure is surfaced to the thread's action trail so the operator sees it.
func (w *Worker) Work(ctx context.Context, job *river.Job[jobqueue.ClassifyArgs]) error {
	threadID := job.Args.ThreadID

	release, err := w.locks.TryLock(threadID)
	var busy *jobqueue.ErrThreadBusy
	if errors.As(err, &busy) {
		return river.JobSnooze(w.config.LockSnooze)
	}
	if err != nil {
		return err
	}
	defer release()

	if err := w.classifyThread(ctx, threadID); err != nil {
		if errs.IsNotFound(err) {
			// Thread or message gone; retrying will never help.
			w.logger.Warn().Err(err).Str("thread_id", threadID).Msg("classify target missing, discarding job")
			return river.JobCancel(err)
		}

		if job.Attempt >= job.MaxAttempts {
			exhausted := &errs.ExhaustedRetriesError{JobKind: job.Args.Kind(), Attempts: job.Attempt, LastErr: err}
			w.recordFailure(ctx, threadID, exhausted)
			return exhausted
		}
		return err
	}
	return nil
}

func (w *Worker) classifyThread(ctx context.Context, threadID string) error {
	thread, err := w.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}

	latest, err := w.store.LatestInbound(ctx, threadID)
	if err != nil {
		return err
	}

	history, err := w.store.ListMessages(ctx, threadID)
	if err != nil {
		return err
	}

	pol, err := w.policies.Get(ctx, thread.UserID)
	if err != nil {
		return err
	}

	decision, err := w.classifier.Classify(ctx, Request{
		Latest:  *latest,
		History: history,
		Policy:  pol,
	})
	if err != nil {
		return fmt.Errorf("classification failed for thread %s: %w", threadID, err)
	}

	if len(decision.Drafts) > MaxDrafts {
		decision.Drafts = decision.Drafts[:MaxDrafts]
	}

	// Replace drafts atomically so a requeued job cannot stack duplicates.
	err = w.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := w.store.DeleteDraftsTx(ctx, tx, threadID); err != nil {
			return err
		}
		for _, d := range decision.Drafts {
			m := &store.Message{
				ThreadID:  threadID,
				Direction: store.DirectionDraft,
				Subject:   d.Subject,
				Body:      d.Body,
			}
			if err := w.store.AppendMessageTx(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if decision.SchedulingIntent || decision.Intent == IntentSchedule {
		action := &store.Action{
			ThreadID: threadID,
			Kind:     store.ActionSchedulingIntent,
			Note:     "prospect appears ready to book time",
		}
		if err := w.store.AppendAction(ctx, action); err != nil {
			return err
		}
	}

	w.logger.Info().
		Str("thread_id", threadID).
		Str("intent", decision.Intent).
		Int("drafts", len(decision.Drafts)).
		Msg("classified inbound message")
	return nil
}

// recordFailure puts a classify_failed entry on the action trail. Best effort:
// the job is already discarding, so a store failure here is only logged.
func (w *Worker) recordFailure(ctx context.Context, threadID string, cause error) {
	action := &store.Action{
		ThreadID: threadID,
		Kind:     store.ActionClassifyFailed,
		Note:     fmt.Sprintf("classification gave up after retries: %v", cause),
	}
	if err := w.store.AppendAction(ctx, action); err != nil {
		w.logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to record classify failure")
	}
}
