package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/store"
)

func validMessage() InboundMessage {
	return InboundMessage{
		UserID:           "u1",
		Channel:          store.ChannelEmail,
		ExternalThreadID: "ext-1",
		Sender:           "prospect@example.com",
		Recipient:        "me@example.com",
		Body:             "Tell me more",
	}
}

func TestValidateAcceptsWellFormedMessage(t *testing.T) {
	assert.NoError(t, validate(validMessage()))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InboundMessage)
		field  string
	}{
		{"missing user", func(m *InboundMessage) { m.UserID = "" }, "user_id"},
		{"blank user", func(m *InboundMessage) { m.UserID = "   " }, "user_id"},
		{"missing body", func(m *InboundMessage) { m.Body = "" }, "body"},
		{"whitespace body", func(m *InboundMessage) { m.Body = " \n\t" }, "body"},
		{"unknown channel", func(m *InboundMessage) { m.Channel = "carrier-pigeon" }, "channel"},
		{"empty channel", func(m *InboundMessage) { m.Channel = "" }, "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)

			err := validate(msg)
			assert.True(t, errs.IsValidation(err))

			var ve *errs.ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateAllowsMissingExternalThreadID(t *testing.T) {
	// A keyless conversation lands in the empty-string bucket; that is valid.
	msg := validMessage()
	msg.ExternalThreadID = ""
	assert.NoError(t, validate(msg))
}

// fakeStore simulates thread persistence. When raceWinner is set, lookups miss
// until CreateThread fails with the unique violation a concurrent insert would
// produce, after which the winner's thread is visible.
type fakeStore struct {
	raceWinner *store.Thread
	created    []store.Thread
	messages   []store.Message
	inboundAt  []time.Time

	lookupMissed bool
}

func (f *fakeStore) FindThreadByKey(_ context.Context, userID string, channel store.Channel, externalID string) (*store.Thread, error) {
	if f.raceWinner != nil && f.lookupMissed {
		return f.raceWinner, nil
	}
	f.lookupMissed = true
	return nil, &errs.NotFoundError{Kind: "thread", ID: fmt.Sprintf("%s/%s/%s", userID, channel, externalID)}
}

func (f *fakeStore) CreateThread(_ context.Context, t *store.Thread) error {
	if f.raceWinner != nil {
		return fmt.Errorf("failed to create thread: %w", &pq.Error{Code: "23505"})
	}
	t.ID = "created-1"
	f.created = append(f.created, *t)
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) AppendMessageTx(_ context.Context, _ *sql.Tx, m *store.Message) error {
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeStore) MarkInboundTx(_ context.Context, _ *sql.Tx, _ string, at time.Time) error {
	f.inboundAt = append(f.inboundAt, at)
	return nil
}

type fakeEnqueuer struct {
	classif []string
}

func (f *fakeEnqueuer) EnqueueClassify(_ context.Context, threadID string) error {
	f.classif = append(f.classif, threadID)
	return nil
}

func (f *fakeEnqueuer) EnqueueSend(_ context.Context, _ jobqueue.SendArgs, _ time.Duration) error {
	return nil
}

func (f *fakeEnqueuer) EnqueueSweep(_ context.Context, _ jobqueue.SweepArgs) error {
	return nil
}

func TestIngestCreatesThreadAndQueuesClassification(t *testing.T) {
	st := &fakeStore{}
	q := &fakeEnqueuer{}
	s := NewService(st, q, zerolog.Nop())

	result, err := s.Ingest(context.Background(), validMessage())
	require.NoError(t, err)

	assert.True(t, result.ThreadCreated)
	assert.True(t, result.Queued)
	require.Len(t, st.created, 1)
	assert.Equal(t, store.StatusAwaitingHuman, st.created[0].Status)
	require.Len(t, st.messages, 1)
	assert.Equal(t, store.DirectionInbound, st.messages[0].Direction)
	assert.Equal(t, []string{result.ThreadID}, q.classif)
}

func TestIngestAdoptsThreadWonByConcurrentInsert(t *testing.T) {
	// Two first-inbounds for the same (user, channel, external id) triple race:
	// both miss the lookup, one insert wins, the other hits the unique
	// constraint. The loser must land its message on the winner's thread rather
	// than surfacing the constraint error.
	winner := &store.Thread{ID: "winner-1", UserID: "u1", Channel: store.ChannelEmail, ExternalThreadID: "ext-1", Status: store.StatusAwaitingHuman}
	st := &fakeStore{raceWinner: winner}
	q := &fakeEnqueuer{}
	s := NewService(st, q, zerolog.Nop())

	result, err := s.Ingest(context.Background(), validMessage())
	require.NoError(t, err)

	assert.Equal(t, "winner-1", result.ThreadID)
	assert.False(t, result.ThreadCreated, "the concurrent insert created it, not this call")
	require.Len(t, st.messages, 1)
	assert.Equal(t, "winner-1", st.messages[0].ThreadID)
}

