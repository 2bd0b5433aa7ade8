package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"helferbot/internal/logging"
	"helferbot/internal/orchestrator"
	"helferbot/pkg/models"
	"helferbot/pkg/utils"
)

var validate = validator.New()

// TriggerHandler handles manual job application requests. The request
// carries the same fields the subject parser would have extracted, so
// the operator can push a job through by hand when a mail was missed.
func TriggerHandler(orch *orchestrator.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := utils.GenerateRequestID()
		logger := logging.LogWithRequestID(requestID)

		var req models.TriggerRequest
		if err := c.Bind(&req); err != nil {
			logger.Error("Failed to bind trigger request", map[string]interface{}{
				"error": err.Error(),
			})
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:     "invalid_request",
				Message:   "Invalid request format",
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		if err := validate.Struct(&req); err != nil {
			verr := utils.NewValidationError(err.Error())
			logger.Error("Trigger request validation failed", map[string]interface{}{
				"error": verr.Error(),
			})
			return c.JSON(verr.Code, models.ErrorResponse{
				Error:     "validation_failed",
				Message:   verr.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		resp, err := orch.Trigger(c.Request().Context(), req.ToJobRecord())
		if err != nil {
			logger.Error("Manual trigger failed", map[string]interface{}{
				"error": err.Error(),
			})
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:     "trigger_failed",
				Message:   err.Error(),
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		return c.JSON(http.StatusOK, resp)
	}
}
