// Spendgate - quota resolution and enforcement for API spend
package main

import (
	"context"
	"os"

	"github.com/colinmxs/spendgate/internal/config"
	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger; replaced once config is loaded.
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger = logging.New(cfg.LogLevel, format)

	logger.Info("starting spendgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"cache_ttl", cfg.CacheTTL,
		"warning_dedup", cfg.WarningDedup,
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
