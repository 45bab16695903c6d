package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlite/trafficlite/internal/light"
	"github.com/trafficlite/trafficlite/internal/model"
)

// scriptedSampler replays a fixed sequence of counts, then repeats the last one
type scriptedSampler struct {
	id     string
	mu     sync.Mutex
	counts []int
	calls  int
}

func (s *scriptedSampler) Intersection() string { return s.id }

func (s *scriptedSampler) Sample() model.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.counts) {
		i = len(s.counts) - 1
	}
	s.calls++
	return model.TelemetryRecord{Intersection: s.id, VehicleCount: s.counts[i]}
}

func newTestController(t *testing.T, cfg Config, recorder light.Recorder, samplers ...Sampler) *Controller {
	t.Helper()
	c, err := New(cfg, samplers, recorder, nil)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func threeSamplers() []Sampler {
	return []Sampler{
		&scriptedSampler{id: "Intersection 1", counts: []int{0, 1, 2, 3, 4, 5, 0, 1, 2, 3}},
		&scriptedSampler{id: "Intersection 2", counts: []int{5, 4, 3, 2, 1, 0, 5, 4, 3, 2}},
		&scriptedSampler{id: "Intersection 3", counts: []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 0}},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, []Sampler{
		&scriptedSampler{id: "A", counts: []int{0}},
		&scriptedSampler{id: "A", counts: []int{0}},
	}, nil, nil)
	assert.ErrorContains(t, err, "duplicate intersection")

	_, err = New(Config{}, []Sampler{&scriptedSampler{id: "", counts: []int{0}}}, nil, nil)
	assert.Error(t, err)
}

func TestNew_AllLightsStartRed(t *testing.T) {
	c := newTestController(t, Config{Policy: DefaultPolicy()}, nil, threeSamplers()...)

	assert.Equal(t, []string{"Intersection 1", "Intersection 2", "Intersection 3"}, c.Intersections())
	for id, state := range c.States() {
		assert.Equal(t, model.StateRed, state, id)
	}
}

func TestManageTraffic_TenIterationsOverThree(t *testing.T) {
	var mu sync.Mutex
	var events []model.TrafficEvent
	rec := light.RecorderFunc(func(e model.TrafficEvent) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	})

	c := newTestController(t, Config{Policy: DefaultPolicy(), Iterations: 10}, rec, threeSamplers()...)

	var holds []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		holds = append(holds, d)
		return nil
	}

	lastCounts, err := c.ManageTraffic(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 30, c.Evaluations())
	assert.Len(t, events, 30)
	assert.Len(t, holds, 30, "one hold per evaluation")

	require.Len(t, lastCounts, 3)
	assert.Equal(t, 3, lastCounts["Intersection 1"])
	assert.Equal(t, 2, lastCounts["Intersection 2"])
	assert.Equal(t, 0, lastCounts["Intersection 3"])

	assert.Equal(t, map[string]model.LightState{
		"Intersection 1": model.StateYellow,
		"Intersection 2": model.StateYellow,
		"Intersection 3": model.StateRed,
	}, c.States())

	for id, n := range c.ObservationCounts() {
		assert.Equal(t, 10, n, id)
	}

	// First pass: I1=0 (red, 10s), I2=5 (yellow, 5s), I3=1 (yellow, 5s)
	assert.Equal(t, []time.Duration{DefaultRedDuration, DefaultYellowDuration, DefaultYellowDuration}, holds[:3])
}

func TestManageTraffic_CancelledContext(t *testing.T) {
	c := newTestController(t, Config{Policy: DefaultPolicy(), Iterations: 10}, nil, threeSamplers()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lastCounts, err := c.ManageTraffic(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, lastCounts, 1)
	assert.EqualValues(t, 1, c.Evaluations())
}

func TestManageTraffic_RealHolds(t *testing.T) {
	policy := Policy{
		GreenThreshold: 60,
		RedDuration:    20 * time.Millisecond,
		YellowDuration: 10 * time.Millisecond,
	}
	c, err := New(Config{Policy: policy, Iterations: 1}, []Sampler{
		&scriptedSampler{id: "A", counts: []int{0}},
		&scriptedSampler{id: "B", counts: []int{2}},
	}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.ManageTraffic(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "holds run sequentially")
}

func TestHandleTelemetry_ZeroCountGoesRed(t *testing.T) {
	var mu sync.Mutex
	var events []model.TrafficEvent
	rec := light.RecorderFunc(func(e model.TrafficEvent) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	})

	c := newTestController(t, Config{Policy: DefaultPolicy()}, rec,
		&scriptedSampler{id: "Intersection 1", counts: []int{3}},
		&scriptedSampler{id: "Intersection 2", counts: []int{3}},
		&scriptedSampler{id: "Intersection 3", counts: []int{3}},
	)

	// Give Intersection 1 some history first so the logged count is not 0
	_, err := c.Evaluate("Intersection 1", 2)
	require.NoError(t, err)
	_, err = c.Evaluate("Intersection 1", 4)
	require.NoError(t, err)

	err = c.HandleTelemetry(context.Background(), model.TelemetryRecord{Intersection: "Intersection 1", VehicleCount: 0})
	require.NoError(t, err)

	l, ok := c.Light("Intersection 1")
	require.True(t, ok)
	assert.Equal(t, model.StateRed, l.State())

	var red *model.TrafficEvent
	for i := range events {
		if events[i].Intersection == "Intersection 1" && events[i].State == model.StateRed {
			red = &events[i]
		}
	}
	require.NotNil(t, red)
	assert.Equal(t, 3, red.VehicleCount, "vehicle_count is the observation history length")

	// The whole set was evaluated, others with their own samples
	assert.EqualValues(t, 2+3, c.Evaluations())
	assert.Equal(t, model.StateYellow, c.States()["Intersection 2"])
	assert.Equal(t, model.StateYellow, c.States()["Intersection 3"])
}

func TestHandleTelemetry_UnknownIntersection(t *testing.T) {
	c := newTestController(t, Config{Policy: DefaultPolicy()}, nil, threeSamplers()...)

	err := c.HandleTelemetry(context.Background(), model.TelemetryRecord{Intersection: "Intersection 9", VehicleCount: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownIntersection))
	assert.Zero(t, c.Evaluations())
}

func TestBothPathsConcurrently(t *testing.T) {
	var mu sync.Mutex
	perLight := map[string][]model.TrafficEvent{}
	rec := light.RecorderFunc(func(e model.TrafficEvent) error {
		mu.Lock()
		perLight[e.Intersection] = append(perLight[e.Intersection], e)
		mu.Unlock()
		return nil
	})

	c := newTestController(t, Config{Policy: DefaultPolicy(), Iterations: 50}, rec, threeSamplers()...)

	const telemetry = 100
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < telemetry; i++ {
			err := c.HandleTelemetry(context.Background(), model.TelemetryRecord{Intersection: "Intersection 2", VehicleCount: i % 6})
			assert.NoError(t, err)
		}
	}()

	_, err := c.ManageTraffic(context.Background())
	require.NoError(t, err)
	wg.Wait()

	total := int64(50*3 + telemetry*3)
	assert.Equal(t, total, c.Evaluations())

	for id, events := range perLight {
		l, _ := c.Light(id)
		assert.Len(t, events, len(l.Events()), id)
		for i, e := range events {
			assert.Equal(t, i+1, e.Sequence, "%s event %d out of order", id, i)
		}
	}
}

func TestSnapshot(t *testing.T) {
	c := newTestController(t, Config{Policy: DefaultPolicy()}, nil, threeSamplers()...)
	_, err := c.Evaluate("Intersection 2", 4)
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "Intersection 2", snap[1].ID)
	assert.Equal(t, model.StateYellow, snap[1].State)
	assert.Equal(t, 1, snap[1].ObservationCount)
	assert.Equal(t, 4, snap[1].LastObservation)
	assert.Equal(t, model.StateRed, snap[0].State)
}
