package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"helferbot/internal/api/handlers"
	"helferbot/internal/api/middleware"
	"helferbot/internal/config"
	"helferbot/internal/mailbox"
	"helferbot/internal/notify"
	"helferbot/internal/orchestrator"
	"helferbot/internal/portal"
)

// SetupRoutes configures all API routes
func SetupRoutes(e *echo.Echo, cfg *config.Config, orch *orchestrator.Orchestrator, pm *portal.Manager, watcher *mailbox.Watcher, mailer *notify.Mailer) {
	// Global middleware
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSConfig())
	e.Use(middleware.RequestValidation())
	// Trigger requests block for a full browser round trip, so the
	// timeout has to exceed the portal request timeout with headroom.
	e.Use(middleware.TimeoutConfig(2 * time.Minute))

	e.POST("/trigger", handlers.TriggerHandler(orch))
	e.GET("/health", handlers.HealthHandler(pm, watcher))
	e.GET("/stats", handlers.StatsHandler(orch, watcher))
	e.POST("/notify/test", handlers.NotifyTestHandler(mailer))

	// Root route
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "Umzugshelfer Application Bot",
			"version": "1.0.0",
			"status":  "running",
		})
	})
}
