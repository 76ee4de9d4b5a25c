package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replyloop/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "replyloop",
		Usage:   "Sales conversation automation: ingest, draft, approve, send, follow up",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.SweepCommand(),
			cmd.ConfigCommand(),
			cmd.PolicyCommand(),
			cmd.TokenCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
