package send

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/replyloop/internal/classify"
	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

// Store is the slice of the persistence layer the send worker touches.
// *store.Store satisfies it; tests supply in-memory fakes.
type Store interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	LatestInbound(ctx context.Context, threadID string) (*store.Message, error)
	CountOutboundSince(ctx context.Context, threadID string, since time.Time) (int, error)
	CountActions(ctx context.Context, threadID, kind string) (int, error)
	AppendAction(ctx context.Context, a *store.Action) error
	SetThreadStatus(ctx context.Context, threadID string, status store.ThreadStatus) error
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	AppendMessageTx(ctx context.Context, tx *sql.Tx, m *store.Message) error
	DeleteDraftsTx(ctx context.Context, tx *sql.Tx, threadID string) error
	MarkOutboundTx(ctx context.Context, tx *sql.Tx, threadID string, at time.Time) error
}

// PolicyReader loads the effective policy for a user.
type PolicyReader interface {
	Get(ctx context.Context, userID string) (policy.Policy, error)
}

// Worker consumes send jobs. Every outbound message passes through the policy
// gate here; inbox commands and the sweep only describe intent.
type Worker struct {
	river.WorkerDefaults[jobqueue.SendArgs]

	store    Store
	policies PolicyReader
	channel  Channel
	queue    jobqueue.Enqueuer
	locks    *jobqueue.ThreadLocks
	config   *jobqueue.QueueConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewWorker creates the send worker. The limiter smooths delivery-channel
// calls across all concurrent send workers.
func NewWorker(st Store, policies PolicyReader, channel Channel, queue jobqueue.Enqueuer, locks *jobqueue.ThreadLocks, cfg *jobqueue.QueueConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		store:    st,
		policies: policies,
		channel:  channel,
		queue:    queue,
		locks:    locks,
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		logger:   logger.With().Str("worker", "send").Logger(),
	}
}

// Timeout bounds a single attempt.
func (w *Worker) Timeout(*river.Job[jobqueue.SendArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work executes one send job. Policy deferrals snooze the job rather than
// failing it; real failures retry, and the final attempt hands the thread back
// to the human with a send_failed action.
func (w *Worker) Work(ctx context.Context, job *river.Job[jobqueue.SendArgs]) error {
	args := job.Args

	release, err := w.locks.TryLock(args.ThreadID)
	var busy *jobqueue.ErrThreadBusy
	if errors.As(err, &busy) {
		return river.JobSnooze(w.config.LockSnooze)
	}
	if err != nil {
		return err
	}
	defer release()

	err = w.process(ctx, args)

	var violation *errs.PolicyViolation
	if errors.As(err, &violation) {
		w.logger.Info().
			Str("thread_id", args.ThreadID).
			Str("rule", violation.Rule).
			Time("resume_at", violation.ResumeAt).
			Msg("send deferred by policy")
		return river.JobSnooze(time.Until(violation.ResumeAt))
	}

	if err != nil {
		if errs.IsNotFound(err) || errs.IsValidation(err) {
			w.logger.Warn().Err(err).Str("thread_id", args.ThreadID).Msg("send target invalid, discarding job")
			return river.JobCancel(err)
		}
		if job.Attempt >= job.MaxAttempts {
			exhausted := &errs.ExhaustedRetriesError{JobKind: args.Kind(), Attempts: job.Attempt, LastErr: err}
			w.recordFailure(ctx, args.ThreadID, exhausted)
			return exhausted
		}
		return err
	}
	return nil
}

func (w *Worker) process(ctx context.Context, args jobqueue.SendArgs) error {
	thread, err := w.store.GetThread(ctx, args.ThreadID)
	if err != nil {
		return err
	}

	pol, err := w.policies.Get(ctx, thread.UserID)
	if err != nil {
		return err
	}

	// Propose-only regenerates drafts and never reaches the channel.
	if args.SendKind == jobqueue.SendKindProposeOnly {
		return w.queue.EnqueueClassify(ctx, thread.ID)
	}

	// A queued follow-up may have been deferred across days by quiet hours or
	// the daily cap; the sweep's count at enqueue time is stale by now. Re-check
	// the cap against what actually went out before delivering.
	if args.SendKind == jobqueue.SendKindFollowup {
		sent, err := w.store.CountActions(ctx, thread.ID, store.ActionFollowupSent)
		if err != nil {
			return err
		}
		if sent >= pol.Limits.MaxFollowups {
			w.logger.Info().
				Str("thread_id", thread.ID).
				Int("followups_sent", sent).
				Msg("follow-up cap reached since enqueue, dropping job")
			return nil
		}
	}

	delivery, err := w.buildDelivery(ctx, thread, pol, args)
	if err != nil {
		return err
	}

	if err := w.policyGate(ctx, thread, pol, args); err != nil {
		return err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}
	if err := w.channel.Deliver(ctx, delivery); err != nil {
		return fmt.Errorf("failed to deliver for thread %s: %w", thread.ID, err)
	}

	// Delivery succeeded; record it and advance the thread. Pending drafts are
	// consumed by the send.
	now := time.Now().UTC()
	err = w.store.WithTx(ctx, func(tx *sql.Tx) error {
		m := &store.Message{
			ThreadID:  thread.ID,
			Direction: store.DirectionOutbound,
			Sender:    delivery.From,
			Recipient: delivery.To,
			Body:      delivery.Body,
			Assets:    delivery.Assets,
		}
		if delivery.Subject != "" {
			subject := delivery.Subject
			m.Subject = &subject
		}
		if err := w.store.AppendMessageTx(ctx, tx, m); err != nil {
			return err
		}
		if err := w.store.DeleteDraftsTx(ctx, tx, thread.ID); err != nil {
			return err
		}
		return w.store.MarkOutboundTx(ctx, tx, thread.ID, now)
	})
	if err != nil {
		return err
	}

	if args.SendKind == jobqueue.SendKindFollowup {
		action := &store.Action{
			ThreadID: thread.ID,
			Kind:     store.ActionFollowupSent,
			Note:     "automated follow-up delivered",
		}
		if err := w.store.AppendAction(ctx, action); err != nil {
			return err
		}
	}

	w.logger.Info().
		Str("thread_id", thread.ID).
		Str("send_kind", args.SendKind).
		Str("origin", args.Origin).
		Msg("outbound message sent")
	return nil
}

// buildDelivery resolves the send kind into concrete content.
func (w *Worker) buildDelivery(ctx context.Context, thread *store.Thread, pol policy.Policy, args jobqueue.SendArgs) (Delivery, error) {
	d := Delivery{
		From:   pol.Sender.Email,
		Assets: args.Assets,
	}
	if args.Subject != nil {
		d.Subject = *args.Subject
	}

	recipient, err := w.resolveRecipient(ctx, thread)
	if err != nil {
		return Delivery{}, err
	}
	d.To = recipient

	switch args.SendKind {
	case jobqueue.SendKindApproved:
		if args.Body == "" {
			return Delivery{}, &errs.ValidationError{Field: "body", Reason: "approved send carries no content"}
		}
		d.Body = args.Body

	case jobqueue.SendKindScheduling:
		eventType := args.EventType
		if eventType == "" {
			eventType = pol.Scheduling.EventType
		}
		d.Body = fmt.Sprintf(
			"Would love to find a time that works — you can grab any %s slot here: https://%s.com/%s",
			eventType, pol.Scheduling.Provider, eventType,
		)

	case jobqueue.SendKindProposal:
		offer, ok := pol.FindOffer(args.SKU)
		if !ok {
			return Delivery{}, &errs.NotFoundError{Kind: "offer", ID: args.SKU}
		}
		d.Body = fmt.Sprintf("Here's the option we discussed: %s at %s.", offer.Name, offer.Price)
		if offer.Link != "" {
			d.Body += "\nDetails: " + offer.Link
		}

	case jobqueue.SendKindFollowup:
		draft := classify.FollowupDraft(pol)
		d.Body = draft.Body

	default:
		return Delivery{}, &errs.ValidationError{Field: "send_kind", Reason: fmt.Sprintf("unknown kind %q", args.SendKind)}
	}

	return d, nil
}

// resolveRecipient takes the sender of the latest inbound message. A thread
// that never received an inbound message has nowhere to send to.
func (w *Worker) resolveRecipient(ctx context.Context, thread *store.Thread) (string, error) {
	latest, err := w.store.LatestInbound(ctx, thread.ID)
	if err != nil {
		return "", err
	}
	if latest.Sender == "" {
		return "", &errs.ValidationError{Field: "recipient", Reason: "latest inbound message has no sender address"}
	}
	return latest.Sender, nil
}

// policyGate enforces quiet hours and the per-thread daily cap for every send,
// whatever enqueued it. A deferred send resumes once the window reopens or the
// day rolls over.
func (w *Worker) policyGate(ctx context.Context, thread *store.Thread, pol policy.Policy, args jobqueue.SendArgs) error {
	now := time.Now()

	quiet, err := policy.ParseQuietHours(pol.Limits.QuietHoursLocal, pol.Scheduling.Timezone)
	if err != nil {
		// A malformed window must not permanently wedge sends.
		w.logger.Warn().Err(err).Str("thread_id", thread.ID).Msg("unparseable quiet hours, skipping window check")
	} else if quiet.Contains(now) {
		return &errs.PolicyViolation{Rule: "quiet_hours", ResumeAt: quiet.NextOpen(now)}
	}

	loc := time.Local
	if l, err := time.LoadLocation(pol.Scheduling.Timezone); err == nil {
		loc = l
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	sent, err := w.store.CountOutboundSince(ctx, thread.ID, midnight)
	if err != nil {
		return err
	}
	if sent >= pol.Limits.PerThreadDaily {
		return &errs.PolicyViolation{Rule: "per_thread_daily", ResumeAt: midnight.Add(24 * time.Hour)}
	}
	return nil
}

// recordFailure hands the thread back to the human with a send_failed entry.
// Best effort on the job's final attempt.
func (w *Worker) recordFailure(ctx context.Context, threadID string, cause error) {
	if err := w.store.SetThreadStatus(ctx, threadID, store.StatusAwaitingHuman); err != nil {
		w.logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to return thread to human after send failure")
	}
	action := &store.Action{
		ThreadID: threadID,
		Kind:     store.ActionSendFailed,
		Note:     fmt.Sprintf("send gave up after retries: %v", cause),
	}
	if err := w.store.AppendAction(ctx, action); err != nil {
		w.logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to record send failure")
	}
}
