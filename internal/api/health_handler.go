package api

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

// HealthHandler handles health check endpoints
type HealthHandler struct {
	run RunView
	db  Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(run RunView, db Pinger) *HealthHandler {
	return &HealthHandler{run: run, db: db}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Health handles GET /health (liveness probe)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready handles GET /ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	response := ReadinessResponse{Status: "ready", Timestamp: time.Now()}

	if h.run != nil {
		switch {
		case h.run.Running():
			checks["run"] = "running"
		case h.run.LastReport() != nil:
			checks["run"] = "finished"
		default:
			checks["run"] = "pending"
		}
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
			response.Status = "not_ready"
			response.Error = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	response.Checks = checks
	sendJSON(w, status, response)
}
