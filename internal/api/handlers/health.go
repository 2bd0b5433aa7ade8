package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"helferbot/internal/mailbox"
	"helferbot/internal/orchestrator"
	"helferbot/internal/portal"
	"helferbot/pkg/models"
)

var startTime = time.Now()

// HealthHandler reports liveness plus the readiness of the two external
// attachments: the browser and the IMAP connection.
func HealthHandler(pm *portal.Manager, watcher *mailbox.Watcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		browserReady := pm.Ready()
		mailboxConnected := watcher.Connected()

		status := "healthy"
		if !browserReady || !mailboxConnected {
			status = "degraded"
		}

		return c.JSON(http.StatusOK, models.HealthResponse{
			Status:           status,
			Timestamp:        time.Now(),
			Version:          "1.0.0",
			Uptime:           time.Since(startTime),
			BrowserReady:     browserReady,
			MailboxConnected: mailboxConnected,
		})
	}
}

// StatsHandler reports cumulative processing counters.
func StatsHandler(orch *orchestrator.Orchestrator, watcher *mailbox.Watcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		processed, successful, failed, duplicate := orch.Stats()
		parsed, skipped := watcher.Stats()

		return c.JSON(http.StatusOK, models.StatsResponse{
			JobsProcessed:  processed,
			JobsSuccessful: successful,
			JobsFailed:     failed,
			JobsDuplicate:  duplicate,
			EmailsParsed:   parsed,
			EmailsSkipped:  skipped,
			Timestamp:      time.Now(),
		})
	}
}
