// Package api exposes controller state, samples and run reports over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trafficlite/trafficlite/internal/auth"
	"github.com/trafficlite/trafficlite/internal/coordinator"
	"github.com/trafficlite/trafficlite/internal/light"
	"github.com/trafficlite/trafficlite/internal/middleware"
	"github.com/trafficlite/trafficlite/internal/model"
)

// TrafficView is the read side of the controller
type TrafficView interface {
	Snapshot() []model.IntersectionStatus
	Light(id string) (*light.Light, bool)
}

// RunView is the read side of the coordinator
type RunView interface {
	Samples() []model.NetworkSample
	LastReport() *coordinator.Report
	Running() bool
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the handlers read from. Auth, Hub, DB and
// EventLogPath are optional.
type Dependencies struct {
	Traffic      TrafficView
	Run          RunView
	Auth         *auth.Service
	Hub          http.Handler
	DB           Pinger
	EventLogPath string
	Logger       *slog.Logger
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	healthHandler := NewHealthHandler(deps.Run, deps.DB)
	trafficHandler := NewTrafficHandler(deps.Traffic, deps.Run, deps.EventLogPath)

	// Public routes (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(middleware.JWTAuth(deps.Auth))
		}

		r.Route("/intersections", func(r chi.Router) {
			r.Get("/", trafficHandler.ListIntersections)
			r.Get("/{id}", trafficHandler.GetIntersection)
			r.Get("/{id}/events", trafficHandler.ListEvents)
		})

		r.Get("/events/log", trafficHandler.TailEventLog)
		r.Get("/samples", trafficHandler.ListSamples)
		r.Get("/report", trafficHandler.Report)

		if deps.Hub != nil {
			r.Handle("/ws", deps.Hub)
		}
	})

	return r
}
