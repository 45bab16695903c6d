// Package controller owns the intersection lights and drives their
// transitions from vehicle counts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/trafficlite/trafficlite/internal/light"
	"github.com/trafficlite/trafficlite/internal/model"
)

// ErrUnknownIntersection is returned for telemetry naming an intersection the
// controller does not own
var ErrUnknownIntersection = errors.New("unknown intersection")

// Sampler produces vehicle counts for one intersection
type Sampler interface {
	Intersection() string
	Sample() model.TelemetryRecord
}

// Config holds the decision loop settings
type Config struct {
	Policy     Policy
	Iterations int
}

// Controller exclusively owns the lights of a fixed intersection set. The
// direct decision loop and the telemetry path may call it concurrently;
// per-light locking serializes the transitions.
type Controller struct {
	order    []string
	lights   map[string]*light.Light
	samplers map[string]Sampler

	policy     Policy
	iterations int
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger

	evaluations atomic.Int64
}

// New creates a controller with one RED light per sampler, in sampler order.
// recorder receives every transition event and may be nil.
func New(cfg Config, samplers []Sampler, recorder light.Recorder, logger *slog.Logger) (*Controller, error) {
	if len(samplers) == 0 {
		return nil, errors.New("controller needs at least one intersection")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}

	c := &Controller{
		order:      make([]string, 0, len(samplers)),
		lights:     make(map[string]*light.Light, len(samplers)),
		samplers:   make(map[string]Sampler, len(samplers)),
		policy:     cfg.Policy,
		iterations: cfg.Iterations,
		sleep:      sleepContext,
		logger:     logger.With("component", "controller"),
	}

	for _, s := range samplers {
		id := s.Intersection()
		if id == "" {
			return nil, errors.New("intersection id cannot be empty")
		}
		if _, dup := c.lights[id]; dup {
			return nil, fmt.Errorf("duplicate intersection: %s", id)
		}
		c.order = append(c.order, id)
		c.lights[id] = light.New(id, recorder, logger)
		c.samplers[id] = s
	}

	return c, nil
}

// Evaluate runs one decision cycle for a single intersection: the count is
// recorded as an observation, then the light transitions per the policy.
func (c *Controller) Evaluate(id string, vehicles int) (Decision, error) {
	l, ok := c.lights[id]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownIntersection, id)
	}

	l.RecordObservation(vehicles)
	decision := c.policy.Decide(vehicles)
	if _, err := l.TransitionTo(decision.State); err != nil {
		return Decision{}, fmt.Errorf("transition %s: %w", id, err)
	}
	c.evaluations.Add(1)

	c.logger.Info("traffic checked",
		"intersection", id,
		"vehicles", vehicles,
		"state", decision.State,
		"hold", decision.Hold,
	)

	return decision, nil
}

// ManageTraffic runs the configured number of iterations over every
// intersection, sampling each sensor and holding for the decided duration
// before moving on. It returns the last evaluated count per intersection.
// Only ctx cancellation stops it early.
func (c *Controller) ManageTraffic(ctx context.Context) (map[string]int, error) {
	lastCounts := make(map[string]int, len(c.order))

	for i := 0; i < c.iterations; i++ {
		for _, id := range c.order {
			vehicles := c.samplers[id].Sample().VehicleCount

			decision, err := c.Evaluate(id, vehicles)
			if err != nil {
				return lastCounts, err
			}
			lastCounts[id] = vehicles

			if err := c.sleep(ctx, decision.Hold); err != nil {
				return lastCounts, fmt.Errorf("decision loop interrupted at iteration %d: %w", i+1, err)
			}
		}

		c.logger.Info("iteration completed",
			"iteration", i+1,
			"iterations", c.iterations,
		)
	}

	return lastCounts, nil
}

// HandleTelemetry runs one decision cycle over the full intersection set in
// response to a received record. The sender is evaluated with the reported
// count and every other intersection with a fresh sample. No holds apply on
// this path.
func (c *Controller) HandleTelemetry(ctx context.Context, record model.TelemetryRecord) error {
	if _, ok := c.lights[record.Intersection]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntersection, record.Intersection)
	}

	for _, id := range c.order {
		if err := ctx.Err(); err != nil {
			return err
		}

		vehicles := record.VehicleCount
		if id != record.Intersection {
			vehicles = c.samplers[id].Sample().VehicleCount
		}
		if _, err := c.Evaluate(id, vehicles); err != nil {
			return err
		}
	}

	return nil
}

// Evaluations returns how many decision cycles ran across both paths
func (c *Controller) Evaluations() int64 {
	return c.evaluations.Load()
}

// Intersections returns the intersection ids in evaluation order
func (c *Controller) Intersections() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

// Light returns the light for id
func (c *Controller) Light(id string) (*light.Light, bool) {
	l, ok := c.lights[id]
	return l, ok
}

// States returns the current state per intersection
func (c *Controller) States() map[string]model.LightState {
	states := make(map[string]model.LightState, len(c.order))
	for _, id := range c.order {
		states[id] = c.lights[id].State()
	}
	return states
}

// ObservationCounts returns the observation count per intersection
func (c *Controller) ObservationCounts() map[string]int {
	counts := make(map[string]int, len(c.order))
	for _, id := range c.order {
		counts[id] = c.lights[id].ObservationCount()
	}
	return counts
}

// Snapshot returns the status of every light in evaluation order
func (c *Controller) Snapshot() []model.IntersectionStatus {
	out := make([]model.IntersectionStatus, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.lights[id].Status())
	}
	return out
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
