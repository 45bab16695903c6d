// Package model holds the records shared across the traffic pipeline:
// light states, telemetry, transition events and network samples.
package model

import (
	"fmt"
	"time"
)

// LightState is the signal shown by an intersection light
type LightState string

const (
	StateRed    LightState = "RED"
	StateYellow LightState = "YELLOW"
	StateGreen  LightState = "GREEN"
)

// Valid reports whether s is one of the three signal states
func (s LightState) Valid() bool {
	switch s {
	case StateRed, StateYellow, StateGreen:
		return true
	}
	return false
}

func (s LightState) String() string {
	return string(s)
}

// TelemetryRecord is the wire payload sent from a sensor to the receiver
type TelemetryRecord struct {
	Intersection string `json:"intersection"`
	VehicleCount int    `json:"vehicle_count"`
}

func (t TelemetryRecord) String() string {
	return fmt.Sprintf("TelemetryRecord{Intersection: %s, VehicleCount: %d}", t.Intersection, t.VehicleCount)
}

// TrafficEvent is appended once per light transition.
// VehicleCount is the number of observations recorded on the light at
// transition time, not a vehicle total.
type TrafficEvent struct {
	Intersection string     `json:"intersection"`
	State        LightState `json:"state"`
	Timestamp    time.Time  `json:"timestamp"`
	VehicleCount int        `json:"vehicle_count"`

	// Sequence is 1-based and increases by one per transition on the same light
	Sequence int `json:"sequence"`
}

// NetworkSample is collected per telemetry send for external charting
type NetworkSample struct {
	Timestamp    time.Time `json:"timestamp"`
	Intersection string    `json:"intersection"`
	VehicleCount int       `json:"vehicle_count"`
}

// IntersectionStatus is a point-in-time view of one light
type IntersectionStatus struct {
	ID               string     `json:"id"`
	State            LightState `json:"state"`
	ObservationCount int        `json:"observation_count"`
	LastObservation  int        `json:"last_observation"`
	Transitions      int        `json:"transitions"`
}
