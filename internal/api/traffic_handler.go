package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trafficlite/trafficlite/internal/eventlog"
	"github.com/trafficlite/trafficlite/internal/model"
)

// TrafficHandler serves intersection state, samples and reports
type TrafficHandler struct {
	traffic      TrafficView
	run          RunView
	eventLogPath string
}

// NewTrafficHandler creates a traffic handler
func NewTrafficHandler(traffic TrafficView, run RunView, eventLogPath string) *TrafficHandler {
	return &TrafficHandler{
		traffic:      traffic,
		run:          run,
		eventLogPath: eventLogPath,
	}
}

// ListIntersections handles GET /api/v1/intersections
func (h *TrafficHandler) ListIntersections(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"intersections": h.traffic.Snapshot(),
	})
}

// GetIntersection handles GET /api/v1/intersections/{id}
func (h *TrafficHandler) GetIntersection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := h.traffic.Light(id)
	if !ok {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "intersection not found", id)
		return
	}
	sendJSON(w, http.StatusOK, l.Status())
}

// ListEvents handles GET /api/v1/intersections/{id}/events?limit=N
func (h *TrafficHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := h.traffic.Light(id)
	if !ok {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "intersection not found", id)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events := l.Events()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"intersection": id,
		"events":       events,
	})
}

// TailEventLog handles GET /api/v1/events/log?intersection=&limit=
func (h *TrafficHandler) TailEventLog(w http.ResponseWriter, r *http.Request) {
	if h.eventLogPath == "" {
		sendError(w, r, http.StatusNotFound, "NO_EVENT_LOG", "event log is not configured", nil)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := eventlog.Tail(h.eventLogPath, r.URL.Query().Get("intersection"), limit)
	if err != nil {
		sendError(w, r, http.StatusInternalServerError, "EVENT_LOG_ERROR", "failed to read event log", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
	})
}

// ListSamples handles GET /api/v1/samples?intersection=
func (h *TrafficHandler) ListSamples(w http.ResponseWriter, r *http.Request) {
	samples := h.run.Samples()
	if id := r.URL.Query().Get("intersection"); id != "" {
		filtered := make([]model.NetworkSample, 0, len(samples))
		for _, s := range samples {
			if s.Intersection == id {
				filtered = append(filtered, s)
			}
		}
		samples = filtered
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"samples": samples,
	})
}

// Report handles GET /api/v1/report
func (h *TrafficHandler) Report(w http.ResponseWriter, r *http.Request) {
	report := h.run.LastReport()
	if report == nil {
		sendError(w, r, http.StatusNotFound, "REPORT_NOT_READY", "no run has finished yet", nil)
		return
	}
	sendJSON(w, http.StatusOK, report)
}
