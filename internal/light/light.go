// Package light implements the intersection signal state machine.
package light

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trafficlite/trafficlite/internal/model"
)

// ErrInvalidState is returned when a transition targets an unknown signal state
var ErrInvalidState = errors.New("invalid light state")

// Recorder receives every transition event, in transition order per light
type Recorder interface {
	Record(event model.TrafficEvent) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(event model.TrafficEvent) error

func (f RecorderFunc) Record(event model.TrafficEvent) error {
	return f(event)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(event model.TrafficEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorders fans an event out to every non-nil recorder
func Recorders(recorders ...Recorder) Recorder {
	m := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

// Light holds one intersection's signal state, its observation history and
// its transition history. All methods are safe for concurrent use.
type Light struct {
	id       string
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes transitions and observations on this light
	mu       sync.Mutex
	state    model.LightState
	observed []int
	events   []model.TrafficEvent
}

// Option customizes a Light
type Option func(*Light)

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Light) {
		l.now = now
	}
}

// New creates a light in the RED state. recorder may be nil.
func New(id string, recorder Recorder, logger *slog.Logger, opts ...Option) *Light {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Light{
		id:       id,
		recorder: recorder,
		logger:   logger.With("component", "light", "intersection", id),
		now:      time.Now,
		state:    model.StateRed,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the intersection identifier
func (l *Light) ID() string {
	return l.id
}

// TransitionTo records a TrafficEvent and then moves the light to state.
// The event carries the observation count at the moment of the transition.
// A recorder failure is logged; the transition still happens.
func (l *Light) TransitionTo(state model.LightState) (model.TrafficEvent, error) {
	if !state.Valid() {
		return model.TrafficEvent{}, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event := model.TrafficEvent{
		Intersection: l.id,
		State:        state,
		Timestamp:    l.now(),
		VehicleCount: len(l.observed),
		Sequence:     len(l.events) + 1,
	}
	l.events = append(l.events, event)

	if l.recorder != nil {
		if err := l.recorder.Record(event); err != nil {
			l.logger.Warn("failed to record traffic event",
				"state", state,
				"sequence", event.Sequence,
				"error", err,
			)
		}
	}

	l.state = state

	l.logger.Debug("light transitioned",
		"state", state,
		"vehicle_count", event.VehicleCount,
	)

	return event, nil
}

// RecordObservation appends a vehicle count to the observation history
func (l *Light) RecordObservation(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observed = append(l.observed, count)
}

// ObservationCount returns how many observations were recorded
func (l *Light) ObservationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.observed)
}

// LastObservation returns the most recent count, false when none was recorded
func (l *Light) LastObservation() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.observed) == 0 {
		return 0, false
	}
	return l.observed[len(l.observed)-1], true
}

// State returns the current signal state
func (l *Light) State() model.LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Events returns a copy of the transition history
func (l *Light) Events() []model.TrafficEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]model.TrafficEvent, len(l.events))
	copy(events, l.events)
	return events
}

// Status returns a consistent snapshot of the light
func (l *Light) Status() model.IntersectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := model.IntersectionStatus{
		ID:               l.id,
		State:            l.state,
		ObservationCount: len(l.observed),
		Transitions:      len(l.events),
	}
	if n := len(l.observed); n > 0 {
		status.LastObservation = l.observed[n-1]
	}
	return status
}
