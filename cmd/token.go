package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/replyloop/internal/api"
	"github.com/replyloop/internal/config"
)

// TokenCommand mints an API token for a user. Development convenience; real
// deployments issue tokens from their identity provider with the same secret.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an API token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "User id to embed in the token",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server jwt_secret is not configured")
	}

	token, err := api.GenerateToken(c.String("user"), cfg.Server.JWTSecret, c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
