package send

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/store"
)

// fakeStore is an in-memory stand-in for the send worker's store slice.
type fakeStore struct {
	thread        *store.Thread
	latestInbound *store.Message
	outboundToday int
	followupsSent int

	messages    []store.Message
	actions     []store.Action
	statuses    []store.ThreadStatus
	outboundAt  []time.Time
	draftsWiped bool
}

func (f *fakeStore) GetThread(_ context.Context, id string) (*store.Thread, error) {
	if f.thread == nil || f.thread.ID != id {
		return nil, &errs.NotFoundError{Kind: "thread", ID: id}
	}
	return f.thread, nil
}

func (f *fakeStore) LatestInbound(_ context.Context, threadID string) (*store.Message, error) {
	if f.latestInbound == nil {
		return nil, &errs.NotFoundError{Kind: "inbound message", ID: threadID}
	}
	return f.latestInbound, nil
}

func (f *fakeStore) CountOutboundSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.outboundToday, nil
}

func (f *fakeStore) CountActions(_ context.Context, _ string, kind string) (int, error) {
	if kind == store.ActionFollowupSent {
		return f.followupsSent, nil
	}
	return 0, nil
}

func (f *fakeStore) AppendAction(_ context.Context, a *store.Action) error {
	f.actions = append(f.actions, *a)
	return nil
}

func (f *fakeStore) SetThreadStatus(_ context.Context, _ string, status store.ThreadStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) AppendMessageTx(_ context.Context, _ *sql.Tx, m *store.Message) error {
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeStore) DeleteDraftsTx(_ context.Context, _ *sql.Tx, _ string) error {
	f.draftsWiped = true
	return nil
}

func (f *fakeStore) MarkOutboundTx(_ context.Context, _ *sql.Tx, _ string, at time.Time) error {
	f.outboundAt = append(f.outboundAt, at)
	return nil
}

type fakePolicies struct {
	pol policy.Policy
}

func (f *fakePolicies) Get(_ context.Context, _ string) (policy.Policy, error) {
	return f.pol, nil
}

type fakeChannel struct {
	deliveries []Delivery
	err        error
}

func (f *fakeChannel) Deliver(_ context.Context, d Delivery) error {
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

type fakeEnqueuer struct {
	sends   []jobqueue.SendArgs
	classif []string
	sweeps  []jobqueue.SweepArgs
}

func (f *fakeEnqueuer) EnqueueClassify(_ context.Context, threadID string) error {
	f.classif = append(f.classif, threadID)
	return nil
}

func (f *fakeEnqueuer) EnqueueSend(_ context.Context, args jobqueue.SendArgs, _ time.Duration) error {
	f.sends = append(f.sends, args)
	return nil
}

func (f *fakeEnqueuer) EnqueueSweep(_ context.Context, args jobqueue.SweepArgs) error {
	f.sweeps = append(f.sweeps, args)
	return nil
}

func waitingThread() *store.Thread {
	return &store.Thread{ID: "t1", UserID: "u1", Channel: store.ChannelEmail, Status: store.StatusAwaitingProspect}
}

func prospectInbound() *store.Message {
	return &store.Message{ThreadID: "t1", Direction: store.DirectionInbound, Sender: "prospect@example.com", Body: "sounds interesting"}
}

// openPolicy has no active quiet window so only explicit limits gate sends.
func openPolicy() policy.Policy {
	return policy.ApplyDefaults(policy.Policy{
		Sender:     policy.Sender{Email: "me@example.com"},
		Scheduling: policy.Scheduling{Timezone: "UTC"},
		Limits:     policy.Limits{QuietHoursLocal: "09:00-09:00"},
	})
}

func newTestWorker(st *fakeStore, pol policy.Policy, ch *fakeChannel) *Worker {
	return NewWorker(st, &fakePolicies{pol: pol}, ch, &fakeEnqueuer{}, jobqueue.NewThreadLocks(), jobqueue.DefaultQueueConfig(), zerolog.Nop())
}

func sendJob(args jobqueue.SendArgs, attempt, maxAttempts int) *river.Job[jobqueue.SendArgs] {
	return &river.Job[jobqueue.SendArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   args,
	}
}

func TestApprovedSendDeliversAndAdvancesThread(t *testing.T) {
	st := &fakeStore{thread: waitingThread(), latestInbound: prospectInbound()}
	ch := &fakeChannel{}
	w := newTestWorker(st, openPolicy(), ch)

	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox, Body: "approved reply"}
	require.NoError(t, w.Work(context.Background(), sendJob(args, 1, 5)))

	require.Len(t, ch.deliveries, 1)
	assert.Equal(t, "prospect@example.com", ch.deliveries[0].To)
	assert.Equal(t, "approved reply", ch.deliveries[0].Body)

	require.Len(t, st.messages, 1)
	assert.Equal(t, store.DirectionOutbound, st.messages[0].Direction)
	assert.True(t, st.draftsWiped, "pending drafts are consumed by the send")
	assert.Len(t, st.outboundAt, 1, "outbound stamp advances the thread")
}

func TestDailyCapAppliesToOperatorSends(t *testing.T) {
	// One outbound already went today and the cap is one. An operator-approved
	// send must defer exactly like an automated one; no origin is exempt.
	st := &fakeStore{thread: waitingThread(), latestInbound: prospectInbound(), outboundToday: 1}
	ch := &fakeChannel{}
	w := newTestWorker(st, openPolicy(), ch)

	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox, Body: "second today"}
	err := w.process(context.Background(), args)

	var violation *errs.PolicyViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "per_thread_daily", violation.Rule)
	assert.Empty(t, ch.deliveries)
	assert.Empty(t, st.messages)
}

func TestFollowupCapRecheckedBeforeDelivery(t *testing.T) {
	// The follow-up was queued days ago and deferrals kept it alive while other
	// follow-ups drained; by now the thread is at its cap. The job must drop
	// without delivering instead of trusting the count from enqueue time.
	pol := openPolicy()
	pol.Limits.MaxFollowups = 4
	st := &fakeStore{thread: waitingThread(), latestInbound: prospectInbound(), followupsSent: 4}
	ch := &fakeChannel{}
	w := newTestWorker(st, pol, ch)

	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindFollowup, Origin: jobqueue.OriginSweep}
	require.NoError(t, w.process(context.Background(), args))

	assert.Empty(t, ch.deliveries)
	assert.Empty(t, st.messages)
	assert.Empty(t, st.actions)
}

func TestFollowupBelowCapDeliversAndRecordsSend(t *testing.T) {
	pol := openPolicy()
	pol.Limits.MaxFollowups = 4
	st := &fakeStore{thread: waitingThread(), latestInbound: prospectInbound(), followupsSent: 1}
	ch := &fakeChannel{}
	w := newTestWorker(st, pol, ch)

	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindFollowup, Origin: jobqueue.OriginSweep}
	require.NoError(t, w.process(context.Background(), args))

	require.Len(t, ch.deliveries, 1)
	require.Len(t, st.actions, 1)
	assert.Equal(t, store.ActionFollowupSent, st.actions[0].Kind)
}

func TestFinalAttemptHandsThreadBackToHuman(t *testing.T) {
	st := &fakeStore{thread: waitingThread(), latestInbound: prospectInbound()}
	ch := &fakeChannel{err: errors.New("connection refused")}
	w := newTestWorker(st, openPolicy(), ch)

	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox, Body: "reply"}
	err := w.Work(context.Background(), sendJob(args, 5, 5))

	var exhausted *errs.ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)

	require.Len(t, st.statuses, 1)
	assert.Equal(t, store.StatusAwaitingHuman, st.statuses[0])
	require.Len(t, st.actions, 1)
	assert.Equal(t, store.ActionSendFailed, st.actions[0].Kind)
}

func gateWorker(st *fakeStore) *Worker {
	return &Worker{
		store:  st,
		config: jobqueue.DefaultQueueConfig(),
		logger: zerolog.Nop(),
	}
}

// quietNowPolicy builds a policy whose quiet window surrounds the present
// moment, so the gate must defer regardless of when the test runs.
func quietNowPolicy() policy.Policy {
	now := time.Now().UTC()
	start := now.Add(-2 * time.Hour).Format("15:04")
	end := now.Add(2 * time.Hour).Format("15:04")
	return policy.ApplyDefaults(policy.Policy{
		Scheduling: policy.Scheduling{Timezone: "UTC"},
		Limits:     policy.Limits{QuietHoursLocal: start + "-" + end},
	})
}

func TestPolicyGateDefersInsideQuietHours(t *testing.T) {
	w := gateWorker(&fakeStore{})
	thread := &store.Thread{ID: "t1"}
	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox}

	err := w.policyGate(context.Background(), thread, quietNowPolicy(), args)

	var violation *errs.PolicyViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "quiet_hours", violation.Rule)
	assert.True(t, violation.ResumeAt.After(time.Now()))
}

func TestPolicyGateAllowsOutsideQuietHours(t *testing.T) {
	w := gateWorker(&fakeStore{})
	thread := &store.Thread{ID: "t1"}
	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox}

	// An empty window (start == end) never contains anything, and nothing went
	// out today so the daily cap has room.
	pol := policy.ApplyDefaults(policy.Policy{
		Scheduling: policy.Scheduling{Timezone: "UTC"},
		Limits:     policy.Limits{QuietHoursLocal: "09:00-09:00"},
	})

	assert.NoError(t, w.policyGate(context.Background(), thread, pol, args))
}

func TestPolicyGateToleratesMalformedWindow(t *testing.T) {
	w := gateWorker(&fakeStore{})
	thread := &store.Thread{ID: "t1"}
	args := jobqueue.SendArgs{ThreadID: "t1", SendKind: jobqueue.SendKindApproved, Origin: jobqueue.OriginInbox}

	pol := policy.ApplyDefaults(policy.Policy{
		Limits: policy.Limits{QuietHoursLocal: "whenever"},
	})

	// A broken window must not block sends forever.
	assert.NoError(t, w.policyGate(context.Background(), thread, pol, args))
}

func TestLogChannelNeverFails(t *testing.T) {
	c := NewLogChannel(zerolog.Nop())
	err := c.Deliver(context.Background(), Delivery{
		To:      "prospect@example.com",
		Subject: "hello",
		Body:    "world",
	})
	assert.NoError(t, err)
}
