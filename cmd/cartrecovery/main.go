package main

import (
	"context"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("cart-recovery failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "cartrecovery",
		Usage:                 "Recover abandoned carts through WhatsApp message flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional .env file loaded before reading the environment",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the webhook API, the dispatch scheduler and the stale-message sweeper",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return runServe(ctx, cfg)
				},
			},
			{
				Name:  "dispatch",
				Usage: "Run one dispatch cycle and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return runDispatchOnce(ctx, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply or roll back the Postgres schema",
				Commands: []*cli.Command{
					{
						Name:  "up",
						Usage: "Apply pending migrations",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runMigrate(ctx, cmd, true)
						},
					},
					{
						Name:  "down",
						Usage: "Roll back all migrations",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runMigrate(ctx, cmd, false)
						},
					},
				},
			},
		},
	}
}
