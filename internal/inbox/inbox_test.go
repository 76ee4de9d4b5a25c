package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/jobqueue"
)

// fakeEnqueuer records what would have been queued.
type fakeEnqueuer struct {
	sends   []jobqueue.SendArgs
	delays  []time.Duration
	classif []string
	sweeps  []jobqueue.SweepArgs
}

func (f *fakeEnqueuer) EnqueueClassify(_ context.Context, threadID string) error {
	f.classif = append(f.classif, threadID)
	return nil
}

func (f *fakeEnqueuer) EnqueueSend(_ context.Context, args jobqueue.SendArgs, delay time.Duration) error {
	f.sends = append(f.sends, args)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeEnqueuer) EnqueueSweep(_ context.Context, args jobqueue.SweepArgs) error {
	f.sweeps = append(f.sweeps, args)
	return nil
}

func newTestService(q jobqueue.Enqueuer, locks *jobqueue.ThreadLocks) *Service {
	// No store: these tests only cover paths that fail validation or lock
	// acquisition before any database access.
	return NewService(nil, q, locks, jobqueue.DefaultQueueConfig(), zerolog.Nop())
}

func TestEditAndSendRequiresBody(t *testing.T) {
	q := &fakeEnqueuer{}
	s := newTestService(q, jobqueue.NewThreadLocks())

	_, err := s.EditAndSend(context.Background(), "u1", "t1", nil, "   ")
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, q.sends, "nothing may be queued for an invalid command")
}

func TestSendProposalRequiresSKU(t *testing.T) {
	q := &fakeEnqueuer{}
	s := newTestService(q, jobqueue.NewThreadLocks())

	_, err := s.SendProposal(context.Background(), "u1", "t1", "")
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, q.sends)
}

func TestEnqueueSendAppliesCommandDelay(t *testing.T) {
	q := &fakeEnqueuer{}
	s := newTestService(q, jobqueue.NewThreadLocks())

	result, err := s.enqueueSend(context.Background(), jobqueue.SendArgs{
		ThreadID: "t1",
		SendKind: jobqueue.SendKindApproved,
		Origin:   jobqueue.OriginInbox,
		Body:     "approved content",
	})
	assert.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, "t1", result.ThreadID)

	assert.Len(t, q.sends, 1)
	assert.Equal(t, jobqueue.DefaultQueueConfig().CommandDelay, q.delays[0])
}

func TestEscalateWaitsForThreadLock(t *testing.T) {
	// A worker is mid-flight on the thread. The escalation must not race its
	// status write; with the lock held for the whole command window it comes
	// back retryable instead of silently interleaving.
	locks := jobqueue.NewThreadLocks()
	release, err := locks.TryLock("t1")
	require.NoError(t, err)
	defer release()

	s := newTestService(&fakeEnqueuer{}, locks)

	err = s.Escalate(context.Background(), "u1", "t1", "")
	assert.True(t, errs.IsTransient(err))
}

func TestManualHandoffWaitsForThreadLock(t *testing.T) {
	locks := jobqueue.NewThreadLocks()
	release, err := locks.TryLock("t1")
	require.NoError(t, err)
	defer release()

	s := newTestService(&fakeEnqueuer{}, locks)

	err = s.ManualHandoff(context.Background(), "u1", "t1")
	assert.True(t, errs.IsTransient(err))
}

func TestEscalateRetriesUntilLockFrees(t *testing.T) {
	locks := jobqueue.NewThreadLocks()
	release, err := locks.TryLock("t1")
	require.NoError(t, err)

	// Free the lock while acquisition is inside its retry window; a later
	// attempt must pick it up instead of failing outright.
	go func() {
		time.Sleep(lockRetryDelay / 2)
		release()
	}()

	s := newTestService(&fakeEnqueuer{}, locks)

	rel, err := s.lockThread(context.Background(), "t1")
	require.NoError(t, err)
	rel()
}
