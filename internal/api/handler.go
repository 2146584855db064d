// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/orchestrator"
	"adherence-guardian/internal/patient"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the part of *orchestrator.Orchestrator the handlers use.
type Orchestrator interface {
	Run(ctx context.Context, patientID uuid.UUID, task string, initial map[string]any) (orchestrator.Outcome, error)
	HandleNewMedication(ctx context.Context, patientID, medicationID uuid.UUID) (orchestrator.Outcome, error)
	HandleSymptomReport(ctx context.Context, patientID, symptomID uuid.UUID) (orchestrator.Outcome, error)
	GenerateInsights(ctx context.Context, patientID uuid.UUID) ([]orchestrator.Insight, error)
	Healthy() bool
}

type Handler struct {
	orch       Orchestrator
	runTimeout time.Duration
	log        zerolog.Logger
}

func NewHandler(orch Orchestrator, runTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{orch: orch, runTimeout: runTimeout, log: log}
}

type TaskRequest struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

type OutcomeResponse struct {
	orchestrator.Outcome
	Actions []orchestrator.Action `json:"actions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	var req TaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request"})
		return
	}
	if req.Task == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "task is required"})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	out, err := h.orch.Run(ctx, pid, req.Task, req.Context)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) ScheduleMedication(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}
	mid, ok := h.uuidParam(w, r, "medicationID")
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	out, err := h.orch.HandleNewMedication(ctx, pid, mid)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) AnalyzeSymptom(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}
	sid, ok := h.uuidParam(w, r, "symptomID")
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	out, err := h.orch.HandleSymptomReport(ctx, pid, sid)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	insights, err := h.orch.GenerateInsights(ctx, pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if insights == nil {
		insights = []orchestrator.Insight{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	if !h.orch.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.runTimeout)
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out orchestrator.Outcome, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: out, Actions: orchestrator.ExtractActions(out)})
}

// writeError maps run errors to status codes. A missing patient surfaces as
// a data read failure, so ErrNotFound is checked first.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Processing failed"
	switch {
	case errors.Is(err, patient.ErrNotFound):
		status, msg = http.StatusNotFound, "Patient not found"
	case errors.Is(err, capability.ErrDataUnavailable):
		status, msg = http.StatusServiceUnavailable, "Patient data unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "Request timed out"
	}
	hlog.FromRequest(r).Error().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Post("/tasks", h.RunTask)
		r.Post("/medications/{medicationID}/schedule", h.ScheduleMedication)
		r.Post("/symptoms/{symptomID}/analysis", h.AnalyzeSymptom)
		r.Get("/insights", h.Insights)
	})
}

// NewRouter builds the full HTTP handler with request logging.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(h.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
