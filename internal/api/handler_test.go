package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/orchestrator"
	"adherence-guardian/internal/patient"
	"adherence-guardian/internal/router"
)

var now = time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)

func seededServer(t *testing.T) (http.Handler, uuid.UUID) {
	t.Helper()
	repo := patient.NewMemoryRepository()
	pid := patient.SeedDemo(repo, now)

	d := capability.Deps{Store: repo, Logger: zerolog.Nop(), Clock: func() time.Time { return now }}
	mon := config.Default().Monitoring
	mon.WindowDays = 14
	orch := orchestrator.New(router.New(), []capability.Capability{
		capability.NewPlanning(d),
		capability.NewMonitoring(d, mon),
		capability.NewBarrier(d, config.Default().Barrier),
		capability.NewLiaison(d, mon, nil),
	})
	return NewRouter(NewHandler(orch, time.Minute, zerolog.Nop())), pid
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// ============================================================================
// Happy paths
// ============================================================================

func TestRunTask(t *testing.T) {
	h, pid := seededServer(t)

	rec, out := do(t, h, http.MethodPost, fmt.Sprintf("/api/patients/%s/tasks", pid), `{"task":"How is my adherence trend?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	invoked := out["capabilities_invoked"].([]any)
	assert.Equal(t, "monitoring", invoked[0])
	assert.Equal(t, true, out["requires_escalation"])
	assert.NotEmpty(t, out["final_answer"])
	assert.NotEmpty(t, out["actions"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestScheduleMedication(t *testing.T) {
	h, pid := seededServer(t)

	rec, out := do(t, h, http.MethodPost, fmt.Sprintf("/api/patients/%s/medications/%s/schedule", pid, uuid.New()), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "planning", out["capabilities_invoked"].([]any)[0])
}

func TestInsights(t *testing.T) {
	h, pid := seededServer(t)

	rec, out := do(t, h, http.MethodGet, fmt.Sprintf("/api/patients/%s/insights", pid), "")
	require.Equal(t, http.StatusOK, rec.Code)
	insights := out["insights"].([]any)
	require.Len(t, insights, 3)
	assert.Equal(t, "64.3%", insights[0].(map[string]any)["value"])
}

func TestHealth(t *testing.T) {
	h, _ := seededServer(t)
	rec, out := do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	degraded := NewRouter(NewHandler(orchestrator.New(nil, nil), 0, zerolog.Nop()))
	rec, out = do(t, degraded, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", out["status"])
}

// ============================================================================
// Errors
// ============================================================================

type failingOrchestrator struct {
	*orchestrator.Orchestrator
	err error
}

func (f failingOrchestrator) Run(context.Context, uuid.UUID, string, map[string]any) (orchestrator.Outcome, error) {
	return orchestrator.Outcome{}, f.err
}

func (f failingOrchestrator) GenerateInsights(context.Context, uuid.UUID) ([]orchestrator.Insight, error) {
	return nil, f.err
}

func TestErrorMapping(t *testing.T) {
	notFound := fmt.Errorf("%w: patient: %w", capability.ErrDataUnavailable, patient.ErrNotFound)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"missing patient", notFound, http.StatusNotFound},
		{"store down", fmt.Errorf("%w: dose events: timeout", capability.ErrDataUnavailable), http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("run cancelled: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(NewHandler(failingOrchestrator{err: tt.err}, 0, zerolog.Nop()))

			rec, out := do(t, h, http.MethodPost, fmt.Sprintf("/api/patients/%s/tasks", uuid.New()), `{"task":"adherence"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, out["error"])

			rec, _ = do(t, h, http.MethodGet, fmt.Sprintf("/api/patients/%s/insights", uuid.New()), "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUnknownPatientIsNotFound(t *testing.T) {
	h, _ := seededServer(t)
	rec, _ := do(t, h, http.MethodPost, fmt.Sprintf("/api/patients/%s/tasks", uuid.New()), `{"task":"what barrier is stopping me"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	h, pid := seededServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad patient id", "/api/patients/not-a-uuid/tasks", `{"task":"x"}`},
		{"bad body", fmt.Sprintf("/api/patients/%s/tasks", pid), `{`},
		{"empty task", fmt.Sprintf("/api/patients/%s/tasks", pid), `{"task":""}`},
		{"bad medication id", fmt.Sprintf("/api/patients/%s/medications/nope/schedule", pid), ""},
		{"bad symptom id", fmt.Sprintf("/api/patients/%s/symptoms/nope/analysis", pid), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}
