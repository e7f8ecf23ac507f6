// Command ranyacore runs the core agent process: the
// process that owns the Message Store, Session Store, Cost & Token
// Ledger, LLM Client, Context Manager, and Agent Turn Loop.
package main

import (
	"flag"

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/daemon"
	"github.com/harun/ranya-core/internal/logger"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to ranya.json (defaults to ~/.ranya/ranya.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}
	defer lg.Close()

	d, err := daemon.New(cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to build daemon")
	}
	if err := d.Start(); err != nil {
		lg.Fatal().Err(err).Msg("failed to start daemon")
	}

	d.Wait()
}
