package controller

import (
	"time"

	"github.com/trafficlite/trafficlite/internal/model"
)

// Default policy values. The GREEN threshold sits far above the default
// sample range, so GREEN is unreachable unless max_vehicles is raised.
const (
	DefaultGreenThreshold = 60
	DefaultRedDuration    = 10 * time.Second
	DefaultYellowDuration = 5 * time.Second
	DefaultGreenDuration  = 15 * time.Second
	DefaultIterations     = 10
)

// Policy maps a vehicle count to a signal state and a hold duration
type Policy struct {
	GreenThreshold int
	RedDuration    time.Duration
	YellowDuration time.Duration
	GreenDuration  time.Duration
}

// Decision is the outcome of one policy evaluation
type Decision struct {
	State model.LightState
	Hold  time.Duration
}

// DefaultPolicy returns the stock thresholds and durations
func DefaultPolicy() Policy {
	return Policy{
		GreenThreshold: DefaultGreenThreshold,
		RedDuration:    DefaultRedDuration,
		YellowDuration: DefaultYellowDuration,
		GreenDuration:  DefaultGreenDuration,
	}
}

// Decide applies the policy:
//
//	v > GreenThreshold -> GREEN
//	v == 0             -> RED
//	otherwise          -> YELLOW
func (p Policy) Decide(vehicles int) Decision {
	switch {
	case vehicles > p.GreenThreshold:
		return Decision{State: model.StateGreen, Hold: p.GreenDuration}
	case vehicles == 0:
		return Decision{State: model.StateRed, Hold: p.RedDuration}
	default:
		return Decision{State: model.StateYellow, Hold: p.YellowDuration}
	}
}
