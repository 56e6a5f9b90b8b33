package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/venuepos/venuepos/internal/app"
	"github.com/venuepos/venuepos/internal/config"
)

// @title VenuePOS API
// @version 1.0
// @description Point-of-sale backend for event box offices: presale
// @description redemption, direct sales and cashdesk session accounting.
// @host localhost:8080
// @BasePath /
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
