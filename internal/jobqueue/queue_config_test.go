package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultQueueConfig(t *testing.T) {
	c := DefaultQueueConfig()

	assert.Equal(t, 4, c.ClassifyWorkers)
	assert.Equal(t, 4, c.SendWorkers)
	assert.Equal(t, 1, c.SweepWorkers)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Greater(t, c.CommandDelay.Milliseconds(), int64(0))
}

func TestRiverQueueConfigCoversAllQueues(t *testing.T) {
	rc := DefaultQueueConfig().RiverQueueConfig()

	assert.Len(t, rc, 3)
	assert.Equal(t, 4, rc[QueueClassify].MaxWorkers)
	assert.Equal(t, 4, rc[QueueSend].MaxWorkers)
	assert.Equal(t, 1, rc[QueueSweep].MaxWorkers)
}

func TestArgsRouteToTheirQueues(t *testing.T) {
	assert.Equal(t, QueueClassify, ClassifyArgs{}.InsertOpts().Queue)
	assert.Equal(t, QueueSend, SendArgs{}.InsertOpts().Queue)
	assert.Equal(t, QueueSweep, SweepArgs{}.InsertOpts().Queue)

	// Kinds are part of the wire contract with the job table.
	assert.Equal(t, "thread_classify", ClassifyArgs{}.Kind())
	assert.Equal(t, "thread_send", SendArgs{}.Kind())
	assert.Equal(t, "thread_sweep", SweepArgs{}.Kind())
}
