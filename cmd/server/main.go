// Command server runs the SentinelBank API: adaptive-authentication web
// banking with risk-scored logins and step-up verification.
package main

import (
	"context"
	"os"

	"github.com/adityanair/sentinelbank/internal/config"
	"github.com/adityanair/sentinelbank/internal/logging"
	"github.com/adityanair/sentinelbank/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)

	logger.Info("starting sentinelbank",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"smtp", cfg.SMTPEnabled(),
		"ledger", cfg.LedgerEnabled(),
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
