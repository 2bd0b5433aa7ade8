package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"helferbot/internal/notify"
	"helferbot/pkg/models"
	"helferbot/pkg/utils"
)

// NotifyTestHandler sends a probe notification so the operator can
// verify the SMTP settings.
func NotifyTestHandler(mailer *notify.Mailer) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()

		if !mailer.Enabled() {
			return c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:     "notifications_disabled",
				Message:   "Notifications are disabled in the configuration",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		if err := mailer.SendTest(); err != nil {
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:     "notification_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		return c.JSON(http.StatusOK, map[string]string{
			"status":     "sent",
			"request_id": requestID,
		})
	}
}
