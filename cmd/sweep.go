package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/replyloop/internal/config"
	"github.com/replyloop/internal/database"
	"github.com/replyloop/internal/jobqueue"
	"github.com/replyloop/internal/store"
	"github.com/replyloop/internal/sweep"
)

// SweepCommand returns the CLI command for a one-shot sweep: queue one sweep
// job per user with waiting threads, then exit. The running serve process
// picks the jobs up.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Queue an immediate stale-thread sweep",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "lookback-hours",
				Usage: "Only threads quiet for at least this long are swept (overrides config)",
			},
		},
		Action: runSweep,
	}
}

func runSweep(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lookback := cfg.Sweep.LookbackHours
	if c.Int("lookback-hours") > 0 {
		lookback = c.Int("lookback-hours")
	}

	ctx := context.Background()

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	queue, err := jobqueue.NewInsertOnlyQueue(pool, jobqueue.DefaultQueueConfig())
	if err != nil {
		return err
	}

	st := store.NewStore(db)
	scheduler := sweep.NewScheduler(st, queue, cfg.Sweep.CronSpec, lookback, newLogger())
	if err := scheduler.Tick(ctx); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Println("Sweep jobs queued.")
	return nil
}
