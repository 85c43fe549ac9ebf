package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/painreview/internal/api"
	"github.com/painreview/internal/config"
	"github.com/painreview/internal/engine"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the review engine HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured port",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if c.Bool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(os.Stderr)

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if override := c.Int("port"); override != 0 {
		port = override
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	log.Info().
		Int("port", port).
		Int("workers", cfg.Engine.Workers).
		Int("history_cap", cfg.History.MaxEntries).
		Msg("Starting review engine")

	server := api.NewServer(eng, port, cfg.Server.RateLimit)
	return server.Start()
}
