package sweep

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/store"
)

// Scheduler runs the periodic sweep: on each tick it fans out one sweep job
// per user who has threads waiting on a prospect.
type Scheduler struct {
	cron          *cron.Cron
	store         *store.Store
	queue         jobqueue.Enqueuer
	spec          string
	lookbackHours int
	logger        zerolog.Logger
}

// NewScheduler creates the cron-driven sweep scheduler.
func NewScheduler(st *store.Store, queue jobqueue.Enqueuer, spec string, lookbackHours int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		store:         st,
		queue:         queue,
		spec:          spec,
		lookbackHours: lookbackHours,
		logger:        logger.With().Str("component", "sweep-scheduler").Logger(),
	}
}

// Start registers the cron entry and starts ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep cron spec %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Int("lookback_hours", s.lookbackHours).Msg("sweep scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick enqueues one sweep job per user with waiting threads. Also used by the
// manual sweep trigger and the one-shot CLI command.
func (s *Scheduler) Tick(ctx context.Context) error {
	users, err := s.store.ListUsersWithWaitingThreads(ctx)
	if err != nil {
		return err
	}

	for _, userID := range users {
		args := jobqueue.SweepArgs{UserID: userID, LookbackHours: s.lookbackHours}
		if err := s.queue.EnqueueSweep(ctx, args); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to queue sweep")
			continue
		}
	}

	s.logger.Debug().Int("users", len(users)).Msg("sweep jobs queued")
	return nil
}
