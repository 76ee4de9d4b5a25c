package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/replyloop/internal/api"
	"github.com/replyloop/internal/classify"
	"github.com/replyloop/internal/config"
	"github.com/replyloop/internal/database"
	"github.com/replyloop/internal/inbox"
	"github.com/replyloop/internal/ingest"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/policy"
	"github.com/replyloop/internal/send"
	"github.com/replyloop/internal/store"
	"github.com/replyloop/internal/sweep"
)

// ServeCommand returns the CLI command for running the full pipeline: API
// server, queue workers, and the sweep scheduler in one process.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and pipeline workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Development mode: fewer workers, faster failures, log-only delivery",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Int("port") > 0 {
		cfg.Server.Port = c.Int("port")
	}

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.NewStore(db)
	policies := policy.NewStorage(db)
	locks := jobqueue.NewThreadLocks()
	queueConfig := buildQueueConfig(cfg, c.Bool("dev"))

	classifier, err := buildClassifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	channel, err := buildChannel(cfg, c.Bool("dev"), logger)
	if err != nil {
		return err
	}

	// The queue handle and the workers reference each other (send workers
	// re-enqueue classification), so the worker bundle is registered first and
	// populated after the client exists.
	workers := river.NewWorkers()
	queue, err := jobqueue.NewQueue(pool, queueConfig, workers)
	if err != nil {
		return err
	}
	river.AddWorker(workers, classify.NewWorker(st, policies, classifier, locks, queueConfig, logger))
	river.AddWorker(workers, send.NewWorker(st, policies, channel, queue, locks, queueConfig, logger))
	river.AddWorker(workers, sweep.NewWorker(st, policies, queue, locks, queueConfig, logger))

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	scheduler := sweep.NewScheduler(st, queue, cfg.Sweep.CronSpec, cfg.Sweep.LookbackHours, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Port, api.Deps{
		Ingest:        ingest.NewService(st, queue, logger),
		Inbox:         inbox.NewService(st, queue, locks, queueConfig, logger),
		Policies:      policies,
		Queue:         queue,
		Channel:       channel,
		JWTSecret:     cfg.Server.JWTSecret,
		LookbackHours: cfg.Sweep.LookbackHours,
	}, logger)

	logger.Info().Int("port", cfg.Server.Port).Msg("starting server")
	serveErr := server.Start(ctx)

	scheduler.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := queue.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("job queue did not stop cleanly")
	}

	return serveErr
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func buildQueueConfig(cfg *config.Config, dev bool) *jobqueue.QueueConfig {
	qc := jobqueue.DefaultQueueConfig()
	if dev {
		qc = jobqueue.DevelopmentQueueConfig()
	}

	if cfg.Queue.ClassifyWorkers > 0 {
		qc.ClassifyWorkers = cfg.Queue.ClassifyWorkers
	}
	if cfg.Queue.SendWorkers > 0 {
		qc.SendWorkers = cfg.Queue.SendWorkers
	}
	if cfg.Queue.SweepWorkers > 0 {
		qc.SweepWorkers = cfg.Queue.SweepWorkers
	}
	if cfg.Queue.MaxAttempts > 0 {
		qc.MaxAttempts = cfg.Queue.MaxAttempts
	}
	if cfg.Queue.CommandDelaySec > 0 {
		qc.CommandDelay = time.Duration(cfg.Queue.CommandDelaySec * float64(time.Second))
	}
	return qc
}

func buildClassifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (classify.Classifier, error) {
	switch cfg.Classifier.Provider {
	case "googleai":
		return classify.NewLangchainClassifier(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model, logger)
	default:
		return classify.NewRuleClassifier(), nil
	}
}

func buildChannel(cfg *config.Config, dev bool, logger zerolog.Logger) (send.Channel, error) {
	if dev || cfg.Channel.SMTPHost == "" {
		return send.NewLogChannel(logger), nil
	}
	return send.NewSMTPChannel(cfg.Channel)
}
