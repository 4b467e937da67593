package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if loaded, err := shared.LoadEnvFiles(".env"); err != nil {
		logger.Warn("failed to load env file", "error", err)
	} else if len(loaded) > 0 {
		logger.Debug("loaded env files", "files", loaded)
	}

	runner := NewRunner(RunnerOpts{Logger: logger, ConfigPath: "config.toml"})
	defer runner.Close()

	app := &cli.Command{
		Name:    "sheetsync",
		Usage:   "Back up music sheets and their media to S3 or WebDAV",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   runner.Before,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
		case errors.Is(err, context.Canceled):
			logger.Warn("interrupted")
		default:
			runner.Close()
			logger.Fatalf("application error: %v", err)
		}
	}
}
