package jobqueue

import (
	"fmt"
	"sync"
)

// ErrThreadBusy is returned when another worker holds a thread's lock. The
// caller is expected to snooze its job rather than block.
type ErrThreadBusy struct {
	ThreadID string
}

func (e *ErrThreadBusy) Error() string {
	return fmt.Sprintf("thread %s is locked by another worker", e.ThreadID)
}

// ThreadLocks is an advisory lock arena keyed by thread id. Workers within and
// across queues must hold a thread's lock for the duration of any
// thread-mutating section; classification and sweep both read-then-write the
// same thread row, so neither may proceed while the other holds it.
type ThreadLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewThreadLocks creates an empty lock arena.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{held: make(map[string]struct{})}
}

// TryLock attempts to acquire the lock for threadID without blocking. On
// success it returns a release func; otherwise ErrThreadBusy.
func (l *ThreadLocks) TryLock(threadID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[threadID]; taken {
		return nil, &ErrThreadBusy{ThreadID: threadID}
	}

	l.held[threadID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, threadID)
			l.mu.Unlock()
		})
	}
	return release, nil
}

// Locked reports whether threadID is currently held. Intended for tests.
func (l *ThreadLocks) Locked(threadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[threadID]
	return taken
}
