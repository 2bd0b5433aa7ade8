package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"helferbot/internal/api/routes"
	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/internal/logging"
	"helferbot/internal/mailbox"
	"helferbot/internal/notify"
	"helferbot/internal/orchestrator"
	"helferbot/internal/portal"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Missing credentials are a startup error, not something to
	// discover mid-application.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging
	if err := logging.InitializeLogging(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.CloseLogging() }()

	logger := logging.GetGlobalLogger()
	logger.Info("Starting Umzugshelfer application bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Portal browser
	portalManager := portal.NewManager(cfg)
	if err := portalManager.Start(ctx); err != nil {
		logger.Fatal("Failed to start portal browser", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer portalManager.Cleanup()

	// Notifications, dedup tracking, orchestration
	mailer := notify.NewMailer(cfg)
	tracker := dedup.NewTracker(cfg.Dedup.MaxEntries)
	orch := orchestrator.New(cfg, portalManager, mailer, tracker)
	go orch.Run(ctx)

	// Mailbox watcher feeds parsed jobs into the orchestrator
	watcher := mailbox.NewWatcher(cfg, tracker, orch.HandleNewJob)
	go watcher.Run(ctx)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Setup routes
	routes.SetupRoutes(e, cfg, orch, portalManager, watcher, mailer)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Stop accepting triggers first, then tear down the workers.
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server", map[string]interface{}{
				"error": err.Error(),
			})
		}

		cancel()
		portalManager.Cleanup()

		logger.Info("Shutdown complete")
	}()

	// Start server
	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", map[string]interface{}{"address": address})

	if err := e.Start(address); err != nil {
		logger.Info("Server stopped", map[string]interface{}{"reason": err.Error()})
	}
}
