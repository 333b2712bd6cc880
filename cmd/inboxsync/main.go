package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"inboxsync/internal/app"
	"inboxsync/pkg/banner"
	"inboxsync/pkg/config"
	"inboxsync/pkg/logger"
	"inboxsync/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	eff, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, version)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		log.Fatalf("startup failed: %v", err)
	}

	banner.Print(eff, version)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_error", "error", err)
		log.Fatalf("server error: %v", err)
	}
	logger.Info("shutdown_complete")
}
