// Package coordinator runs the producer actor, the receiver actor and the
// decision loop for one traffic run and joins them on shutdown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trafficlite/trafficlite/internal/controller"
	"github.com/trafficlite/trafficlite/internal/model"
)

// DefaultProducerInterval is the pause between two producer cycles
const DefaultProducerInterval = 5 * time.Second

// Sender delivers one telemetry record to the receiver
type Sender interface {
	Send(ctx context.Context, record model.TelemetryRecord) error
}

// Actor is a long-running worker stopped by ctx cancellation
type Actor interface {
	Run(ctx context.Context) error
}

// ActorFunc adapts a function to Actor
type ActorFunc func(ctx context.Context) error

func (f ActorFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// SamplePublisher receives every network sample as it is collected
type SamplePublisher interface {
	PublishSample(sample model.NetworkSample)
}

// Config holds run settings
type Config struct {
	ProducerInterval time.Duration
	RunID            uuid.UUID
	Publisher        SamplePublisher
}

// Report summarizes a finished run
type Report struct {
	RunID             uuid.UUID                   `json:"run_id"`
	StartedAt         time.Time                   `json:"started_at"`
	CompletedAt       time.Time                   `json:"completed_at"`
	Duration          string                      `json:"duration"`
	LastCounts        map[string]int              `json:"last_counts"`
	States            map[string]model.LightState `json:"states"`
	ObservationCounts map[string]int              `json:"observation_counts"`
	Evaluations       int64                       `json:"evaluations"`
	Samples           []model.NetworkSample       `json:"samples"`
	ActorError        string                      `json:"actor_error,omitempty"`
}

// Coordinator owns the shutdown signal and the actor handles of a run
type Coordinator struct {
	cfg        Config
	controller *controller.Controller
	samplers   []controller.Sampler
	sender     Sender
	receiver   Actor
	logger     *slog.Logger

	samples sampleLog

	mu      sync.Mutex
	running bool
	report  *Report
}

// New creates a coordinator. samplers feed the producer; the controller owns
// its own samplers for the decision loop.
func New(cfg Config, ctrl *controller.Controller, samplers []controller.Sampler, sender Sender, receiver Actor, logger *slog.Logger) *Coordinator {
	if cfg.ProducerInterval <= 0 {
		cfg.ProducerInterval = DefaultProducerInterval
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:        cfg,
		controller: ctrl,
		samplers:   samplers,
		sender:     sender,
		receiver:   receiver,
		logger:     logger.With("component", "coordinator", "run_id", cfg.RunID.String()),
	}
}

// RunID returns the identifier of this run
func (c *Coordinator) RunID() uuid.UUID {
	return c.cfg.RunID
}

// Run starts the producer and receiver actors, runs the decision loop on the
// calling goroutine, then signals shutdown and waits for both actors. The loop
// is stopped early only by ctx. A partial report is returned alongside a loop
// error.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, errors.New("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	startedAt := time.Now()
	c.logger.Info("traffic run starting",
		"intersections", len(c.samplers),
		"producer_interval", c.cfg.ProducerInterval,
	)

	shutdownCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	var g errgroup.Group
	g.Go(func() error {
		c.produce(shutdownCtx)
		return nil
	})
	// A receiver failure ends only that actor; the plain Group does not
	// cancel the producer
	g.Go(func() error {
		if err := c.receiver.Run(shutdownCtx); err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		return nil
	})

	lastCounts, loopErr := c.controller.ManageTraffic(ctx)
	if loopErr != nil {
		c.logger.Warn("decision loop ended early", "error", loopErr)
	}

	shutdown()
	var actorErr string
	if err := g.Wait(); err != nil {
		c.logger.Error("actor stopped with error", "error", err)
		actorErr = err.Error()
	}

	completedAt := time.Now()
	report := &Report{
		RunID:             c.cfg.RunID,
		StartedAt:         startedAt,
		CompletedAt:       completedAt,
		Duration:          completedAt.Sub(startedAt).String(),
		LastCounts:        lastCounts,
		States:            c.controller.States(),
		ObservationCounts: c.controller.ObservationCounts(),
		Evaluations:       c.controller.Evaluations(),
		Samples:           c.samples.snapshot(),
		ActorError:        actorErr,
	}

	c.mu.Lock()
	c.report = report
	c.mu.Unlock()

	c.logger.Info("traffic run finished",
		"duration", report.Duration,
		"evaluations", report.Evaluations,
		"samples", len(report.Samples),
	)

	return report, loopErr
}

// produce samples every sensor, records and sends each record, then waits
// for the producer interval or shutdown
func (c *Coordinator) produce(ctx context.Context) {
	for {
		for _, s := range c.samplers {
			if ctx.Err() != nil {
				return
			}

			record := s.Sample()
			sample := model.NetworkSample{
				Timestamp:    time.Now(),
				Intersection: record.Intersection,
				VehicleCount: record.VehicleCount,
			}
			c.samples.append(sample)
			if c.cfg.Publisher != nil {
				c.cfg.Publisher.PublishSample(sample)
			}

			if err := c.sender.Send(ctx, record); err != nil {
				c.logger.Warn("failed to send telemetry",
					"intersection", record.Intersection,
					"error", err,
				)
			}
		}

		timer := time.NewTimer(c.cfg.ProducerInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Samples returns the network samples collected so far
func (c *Coordinator) Samples() []model.NetworkSample {
	return c.samples.snapshot()
}

// LastReport returns the report of the last finished run, nil before one
func (c *Coordinator) LastReport() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Running reports whether a run is in progress
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// sampleLog is an append-only, mutex-guarded sample sequence
type sampleLog struct {
	mu      sync.Mutex
	samples []model.NetworkSample
}

func (l *sampleLog) append(s model.NetworkSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *sampleLog) snapshot() []model.NetworkSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.NetworkSample, len(l.samples))
	copy(out, l.samples)
	return out
}
