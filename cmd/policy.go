package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replyloop/internal/config"
	"github.com/replyloop/internal/database"
	"github.com/replyloop/internal/policy"
)

// PolicyCommand returns the policy inspection command.
func PolicyCommand() *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Inspect automation policies",
		Subcommands: []*cli.Command{
			{
				Name:   "defaults",
				Usage:  "Print the default policy as JSON",
				Action: runPolicyDefaults,
			},
			{
				Name:  "show",
				Usage: "Print a user's effective policy and its needs list",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User id",
						Required: true,
					},
				},
				Action: runPolicyShow,
			},
		},
	}
}

func runPolicyDefaults(c *cli.Context) error {
	return printJSON(policy.Defaults())
}

func runPolicyShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	pol, err := policy.NewStorage(db).Get(context.Background(), c.String("user"))
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"policy": pol,
		"needs":  policy.ComputeNeeds(pol),
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
