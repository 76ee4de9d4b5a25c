// Package ingest is the single entry point for inbound prospect messages. It
// resolves or creates the thread, persists the message and the thread stamp in
// one transaction, and queues classification. Whether the message arrived over
// a webhook, the simulator, or an ops replay makes no difference here.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/store"
)

// InboundMessage is one raw inbound unit as received from a channel.
type InboundMessage struct {
	UserID           string          `json:"user_id"`
	Channel          store.Channel   `json:"channel"`
	ExternalThreadID string          `json:"external_thread_id"`
	LeadRef          string          `json:"lead_ref"`
	Sender           string          `json:"sender"`
	Recipient        string          `json:"recipient"`
	Subject          *string         `json:"subject,omitempty"`
	Body             string          `json:"body"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Result reports what ingestion did with the message.
type Result struct {
	ThreadID      string `json:"thread_id"`
	ThreadCreated bool   `json:"thread_created"`
	Queued        bool   `json:"queued"`
}

// Store is the slice of the persistence layer ingestion touches. *store.Store
// satisfies it; tests supply in-memory fakes.
type Store interface {
	FindThreadByKey(ctx context.Context, userID string, channel store.Channel, externalID string) (*store.Thread, error)
	CreateThread(ctx context.Context, t *store.Thread) error
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	AppendMessageTx(ctx context.Context, tx *sql.Tx, m *store.Message) error
	MarkInboundTx(ctx context.Context, tx *sql.Tx, threadID string, at time.Time) error
}

// Service wires the store and the queue behind the ingestion operation.
type Service struct {
	store  Store
	queue  jobqueue.Enqueuer
	logger zerolog.Logger
}

// NewService creates the ingestion service.
func NewService(st Store, queue jobqueue.Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		queue:  queue,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest validates, persists, and queues one inbound message. The message and
// the thread stamp commit together; classification is queued after commit, so
// a crash between the two leaves a consistent thread that the next inbound or
// an ops replay picks up.
func (s *Service) Ingest(ctx context.Context, msg InboundMessage) (*Result, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	thread, created, err := s.resolveThread(ctx, msg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		m := &store.Message{
			ThreadID:  thread.ID,
			Direction: store.DirectionInbound,
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
			Subject:   msg.Subject,
			Body:      msg.Body,
		}
		if err := s.store.AppendMessageTx(ctx, tx, m); err != nil {
			return err
		}
		return s.store.MarkInboundTx(ctx, tx, thread.ID, now)
	})
	if err != nil {
		return nil, err
	}

	result := &Result{ThreadID: thread.ID, ThreadCreated: created}

	if err := s.queue.EnqueueClassify(ctx, thread.ID); err != nil {
		// The message is durably stored; classification just has to wait for a
		// replay. Report it rather than failing the whole ingestion.
		s.logger.Error().Err(err).Str("thread_id", thread.ID).Msg("failed to queue classification")
		return result, nil
	}
	result.Queued = true

	s.logger.Info().
		Str("thread_id", thread.ID).
		Str("channel", string(msg.Channel)).
		Bool("thread_created", created).
		Msg("ingested inbound message")
	return result, nil
}

func validate(msg InboundMessage) error {
	if strings.TrimSpace(msg.UserID) == "" {
		return &errs.ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(msg.Body) == "" {
		return &errs.ValidationError{Field: "body", Reason: "required"}
	}
	if !store.ValidChannel(msg.Channel) {
		return &errs.ValidationError{Field: "channel", Reason: "must be one of email, linkedin, web"}
	}
	return nil
}

// resolveThread finds the thread for the (user, channel, external id) triple,
// creating it in awaiting_human if it does not exist. A missing external id
// falls into the empty-string bucket so keyless channels still converge on one
// thread per user+channel.
func (s *Service) resolveThread(ctx context.Context, msg InboundMessage) (*store.Thread, bool, error) {
	thread, err := s.store.FindThreadByKey(ctx, msg.UserID, msg.Channel, msg.ExternalThreadID)
	if err == nil {
		return thread, false, nil
	}
	if !errs.IsNotFound(err) {
		return nil, false, err
	}

	thread = &store.Thread{
		UserID:           msg.UserID,
		Channel:          msg.Channel,
		ExternalThreadID: msg.ExternalThreadID,
		Status:           store.StatusAwaitingHuman,
		Metadata:         msg.Metadata,
	}
	if msg.LeadRef != "" {
		thread.LeadRef = &msg.LeadRef
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		// Two first-inbounds for the same triple can race past the lookup; the
		// loser hits the unique constraint and adopts the winner's thread.
		if isUniqueViolation(err) {
			existing, findErr := s.store.FindThreadByKey(ctx, msg.UserID, msg.Channel, msg.ExternalThreadID)
			if findErr != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return thread, true, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
