// Package sensor generates synthetic vehicle-count telemetry.
package sensor

import (
	"math/rand/v2"

	"github.com/trafficlite/trafficlite/internal/model"
)

// DefaultMaxVehicles is the upper bound of a sample when none is configured
const DefaultMaxVehicles = 5

// IntN returns a uniform integer in [0, n). It must be safe for concurrent use.
type IntN func(n int) int

// Sensor produces telemetry for one intersection. It holds no mutable state,
// so Sample may be called from any number of goroutines.
type Sensor struct {
	intersection string
	maxVehicles  int
	intn         IntN
}

// New creates a sensor drawing counts uniformly from [0, maxVehicles]
func New(intersection string, maxVehicles int) *Sensor {
	return NewWithSource(intersection, maxVehicles, rand.IntN)
}

// NewWithSource is New with an explicit random source
func NewWithSource(intersection string, maxVehicles int, intn IntN) *Sensor {
	if maxVehicles < 0 {
		maxVehicles = DefaultMaxVehicles
	}
	if intn == nil {
		intn = rand.IntN
	}
	return &Sensor{
		intersection: intersection,
		maxVehicles:  maxVehicles,
		intn:         intn,
	}
}

// Intersection returns the intersection this sensor is bound to
func (s *Sensor) Intersection() string {
	return s.intersection
}

// MaxVehicles returns the inclusive upper bound of a sample
func (s *Sensor) MaxVehicles() int {
	return s.maxVehicles
}

// Sample returns a new telemetry record
func (s *Sensor) Sample() model.TelemetryRecord {
	return model.TelemetryRecord{
		Intersection: s.intersection,
		VehicleCount: s.intn(s.maxVehicles + 1),
	}
}

// Fleet builds one sensor per intersection id, in order
func Fleet(intersections []string, maxVehicles int) []*Sensor {
	sensors := make([]*Sensor, 0, len(intersections))
	for _, id := range intersections {
		sensors = append(sensors, New(id, maxVehicles))
	}
	return sensors
}
