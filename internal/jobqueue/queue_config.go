/*
Package jobqueue configuration - tunable parameters for the River job queue.

Worker counts are per queue. MaxAttempts bounds every job; River applies its
own exponential backoff between attempts, and exhausting the budget leaves the
job in the river_job table as discarded, which the workers surface to the
thread's action trail before the final attempt returns.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	ClassifyWorkers int // Concurrent classification workers (default: 4)
	SendWorkers     int // Concurrent send workers (default: 4)
	SweepWorkers    int // Concurrent sweep workers (default: 1)

	// Retry Configuration
	MaxAttempts int           // Maximum attempts per job including the first (default: 5)
	JobTimeout  time.Duration // Maximum time a single job attempt can run (default: 2 minutes)

	// CommandDelay is the short artificial delay applied when an inbox command
	// enqueues a job, giving the caller a consistent "queued, not yet sent"
	// response and a window for rapid double-submit detection.
	CommandDelay time.Duration

	// LockSnooze is how long a worker snoozes a job when another worker holds
	// the thread's advisory lock.
	LockSnooze time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		ClassifyWorkers: 4,
		SendWorkers:     4,
		SweepWorkers:    1,
		MaxAttempts:     5,
		JobTimeout:      2 * time.Minute,
		CommandDelay:    2 * time.Second,
		LockSnooze:      5 * time.Second,
	}
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.ClassifyWorkers = 1
	config.SendWorkers = 1
	config.MaxAttempts = 2 // Fail faster in development
	config.JobTimeout = 30 * time.Second
	config.CommandDelay = 100 * time.Millisecond

	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueClassify: {MaxWorkers: c.ClassifyWorkers},
		QueueSend:     {MaxWorkers: c.SendWorkers},
		QueueSweep:    {MaxWorkers: c.SweepWorkers},
	}
}
