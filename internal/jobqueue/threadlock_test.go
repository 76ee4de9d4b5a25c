package jobqueue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadLocksExclusion(t *testing.T) {
	locks := NewThreadLocks()

	release, err := locks.TryLock("t1")
	require.NoError(t, err)
	assert.True(t, locks.Locked("t1"))

	_, err = locks.TryLock("t1")
	var busy *ErrThreadBusy
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "t1", busy.ThreadID)

	// A different thread is unaffected.
	release2, err := locks.TryLock("t2")
	require.NoError(t, err)
	release2()

	release()
	assert.False(t, locks.Locked("t1"))

	_, err = locks.TryLock("t1")
	assert.NoError(t, err)
}

func TestThreadLocksReleaseIsIdempotent(t *testing.T) {
	locks := NewThreadLocks()

	release, err := locks.TryLock("t1")
	require.NoError(t, err)

	release()
	release() // second call must not panic or unlock someone else's claim

	again, err := locks.TryLock("t1")
	require.NoError(t, err)

	// Stale release from the first claim must not free the second.
	release()
	assert.True(t, locks.Locked("t1"))
	again()
}

func TestThreadLocksConcurrentClaims(t *testing.T) {
	locks := NewThreadLocks()

	const attempts = 50
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locks.TryLock("t1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly one goroutine may win; nobody released.
	assert.Equal(t, 1, wins)
	assert.True(t, locks.Locked("t1"))
}
