// Package inbox is the human decision surface: a read view over threads
// awaiting an operator and the commands an operator issues against them. The
// commands only describe intent and enqueue work; the send worker is the one
// place content actually leaves the system.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/store"
)

// CommandResult acknowledges a queued command. The job runs after the short
// command delay, so the caller always sees "queued, not yet sent".
type CommandResult struct {
	ThreadID string `json:"thread_id"`
	Queued   bool   `json:"queued"`
}

// Service exposes the action inbox.
type Service struct {
	store  *store.Store
	queue  jobqueue.Enqueuer
	locks  *jobqueue.ThreadLocks
	config *jobqueue.QueueConfig
	logger zerolog.Logger
}

// NewService creates the inbox service. The lock arena is shared with the
// workers: commands that mutate thread state directly must not interleave with
// a worker mid-flight on the same thread.
func NewService(st *store.Store, queue jobqueue.Enqueuer, locks *jobqueue.ThreadLocks, cfg *jobqueue.QueueConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		queue:  queue,
		locks:  locks,
		config: cfg,
		logger: logger.With().Str("component", "inbox").Logger(),
	}
}

// Lock acquisition for synchronous commands. Workers hold a thread lock for at
// most a job timeout, but an HTTP caller cannot wait that long, so a few quick
// retries and then a retryable error.
const (
	lockAttempts   = 4
	lockRetryDelay = 50 * time.Millisecond
)

func (s *Service) lockThread(ctx context.Context, threadID string) (func(), error) {
	var busy *jobqueue.ErrThreadBusy
	for attempt := 1; ; attempt++ {
		release, err := s.locks.TryLock(threadID)
		if err == nil {
			return release, nil
		}
		if !errors.As(err, &busy) {
			return nil, err
		}
		if attempt >= lockAttempts {
			return nil, &errs.TransientDependencyError{Dependency: "thread lock", Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

// ListItems returns the user's threads awaiting a decision, most recent
// inbound first, each with its latest inbound message and pending drafts.
func (s *Service) ListItems(ctx context.Context, userID string) ([]store.InboxItem, error) {
	return s.store.ListAwaitingHuman(ctx, userID)
}

// Timeline returns the merged message/action history for a thread the user
// owns.
func (s *Service) Timeline(ctx context.Context, userID, threadID string) ([]store.TimelineEntry, error) {
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	return s.store.Timeline(ctx, threadID)
}

// SendDraft approves a pending draft verbatim and queues its delivery.
func (s *Service) SendDraft(ctx context.Context, userID, threadID, draftID string) (*CommandResult, error) {
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	draft, err := s.store.GetDraft(ctx, threadID, draftID)
	if err != nil {
		return nil, err
	}

	args := jobqueue.SendArgs{
		ThreadID: threadID,
		SendKind: jobqueue.SendKindApproved,
		Origin:   jobqueue.OriginInbox,
		Subject:  draft.Subject,
		Body:     draft.Body,
		Assets:   draft.Assets,
		DraftID:  draft.ID,
	}
	return s.enqueueSend(ctx, args)
}

// EditAndSend queues delivery of operator-supplied content, bypassing drafts.
func (s *Service) EditAndSend(ctx context.Context, userID, threadID string, subject *string, body string) (*CommandResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &errs.ValidationError{Field: "body", Reason: "required"}
	}
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	args := jobqueue.SendArgs{
		ThreadID: threadID,
		SendKind: jobqueue.SendKindApproved,
		Origin:   jobqueue.OriginInbox,
		Subject:  subject,
		Body:     body,
	}
	return s.enqueueSend(ctx, args)
}

// OfferMeeting queues a scheduling offer built from the user's policy. An
// empty event type falls back to the policy default at send time.
func (s *Service) OfferMeeting(ctx context.Context, userID, threadID, eventType string) (*CommandResult, error) {
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	args := jobqueue.SendArgs{
		ThreadID:  threadID,
		SendKind:  jobqueue.SendKindScheduling,
		Origin:    jobqueue.OriginInbox,
		EventType: eventType,
	}
	return s.enqueueSend(ctx, args)
}

// SendProposal queues an offer-catalog message for the given SKU.
func (s *Service) SendProposal(ctx context.Context, userID, threadID, sku string) (*CommandResult, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, &errs.ValidationError{Field: "sku", Reason: "required"}
	}
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	args := jobqueue.SendArgs{
		ThreadID: threadID,
		SendKind: jobqueue.SendKindProposal,
		Origin:   jobqueue.OriginInbox,
		SKU:      sku,
	}
	return s.enqueueSend(ctx, args)
}

// ProposeDrafts queues draft regeneration without sending anything.
func (s *Service) ProposeDrafts(ctx context.Context, userID, threadID string) (*CommandResult, error) {
	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	args := jobqueue.SendArgs{
		ThreadID: threadID,
		SendKind: jobqueue.SendKindProposeOnly,
		Origin:   jobqueue.OriginOps,
	}
	return s.enqueueSend(ctx, args)
}

// Escalate flags the thread for human attention without sending anything.
// Idempotent when the thread is already awaiting a human. The thread lock is
// held across the mutation so a send worker cannot overwrite the escalation
// with awaiting_prospect mid-command.
func (s *Service) Escalate(ctx context.Context, userID, threadID, note string) error {
	release, err := s.lockThread(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return err
	}

	if note == "" {
		note = "escalated by operator"
	}
	action := &store.Action{ThreadID: threadID, Kind: store.ActionEscalate, Note: note}
	if err := s.store.AppendAction(ctx, action); err != nil {
		return err
	}
	return s.store.SetThreadStatus(ctx, threadID, store.StatusAwaitingHuman)
}

// ManualHandoff marks the thread as handled outside the pipeline: status moves
// to awaiting_prospect and the outbound stamp is set to now, so automation
// stays quiet until the prospect replies and the sweep treats the thread like
// any other waiting one.
func (s *Service) ManualHandoff(ctx context.Context, userID, threadID string) error {
	release, err := s.lockThread(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.ownedThread(ctx, userID, threadID); err != nil {
		return err
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.MarkOutboundTx(ctx, tx, threadID, now)
	})
	if err != nil {
		return err
	}

	action := &store.Action{
		ThreadID: threadID,
		Kind:     store.ActionManualHandoff,
		Note:     "operator replying outside the pipeline",
	}
	return s.store.AppendAction(ctx, action)
}

func (s *Service) enqueueSend(ctx context.Context, args jobqueue.SendArgs) (*CommandResult, error) {
	if err := s.queue.EnqueueSend(ctx, args, s.config.CommandDelay); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("thread_id", args.ThreadID).
		Str("send_kind", args.SendKind).
		Msg("queued inbox command")
	return &CommandResult{ThreadID: args.ThreadID, Queued: true}, nil
}

// ownedThread loads the thread and verifies the caller owns it. A mismatch is
// unauthorized, not not-found: the thread exists, the caller just cannot see it.
func (s *Service) ownedThread(ctx context.Context, userID, threadID string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.UserID != userID {
		return nil, &errs.UnauthorizedError{UserID: userID, ThreadID: threadID}
	}
	return thread, nil
}
