package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/internal/notify"
	"helferbot/internal/orchestrator"
	"helferbot/pkg/models"
)

type stubApplier struct {
	applied bool
	err     error
}

func (s *stubApplier) ApplyByDetails(ctx context.Context, rec *models.JobRecord) (bool, error) {
	return s.applied, s.err
}

func newTestOrchestrator(t *testing.T, applier *stubApplier) *orchestrator.Orchestrator {
	t.Helper()

	cfg := &config.Config{}
	cfg.Notify.Enabled = false

	orch := orchestrator.New(cfg, applier, notify.NewMailer(cfg), dedup.NewTracker(100))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orch.Run(ctx)

	return orch
}

func postTrigger(orch *orchestrator.Orchestrator, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	_ = TriggerHandler(orch)(e.NewContext(req, rec))
	return rec
}

func TestTriggerHandlerRejectsMissingFields(t *testing.T) {
	orch := newTestOrchestrator(t, &stubApplier{})

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"missing date", `{"time":"15:00","zip":"58452"}`},
		{"missing time", `{"date":"23.08.2025","zip":"58452"}`},
		{"missing zip", `{"date":"23.08.2025","time":"15:00"}`},
		{"short zip", `{"date":"23.08.2025","time":"15:00","zip":"584"}`},
		{"non numeric zip", `{"date":"23.08.2025","time":"15:00","zip":"5845a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postTrigger(orch, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "validation_failed", resp.Error)
			assert.True(t, strings.HasPrefix(resp.Message, "Validation failed"), resp.Message)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestTriggerHandlerRejectsMalformedJSON(t *testing.T) {
	orch := newTestOrchestrator(t, &stubApplier{})

	rec := postTrigger(orch, `{"date":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerHandlerAppliesJob(t *testing.T) {
	orch := newTestOrchestrator(t, &stubApplier{applied: true})

	rec := postTrigger(orch, `{"date":"23.08.2025","time":"15:00","zip":"58452","city":"Witten"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"23.08.2025_15:00_58452"}, resp.Results.Successful)
	assert.Empty(t, resp.Results.Failed)
	assert.NotEmpty(t, resp.RequestID)
}

func TestTriggerHandlerReportsUnavailableJob(t *testing.T) {
	orch := newTestOrchestrator(t, &stubApplier{applied: false})

	rec := postTrigger(orch, `{"date":"23.08.2025","time":"15:00","zip":"58452"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results.Successful)
	assert.Equal(t, []string{"23.08.2025_15:00_58452"}, resp.Results.Failed)
}
