package channels

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/trafficlite/trafficlite/internal/model"
)

// Consumer receives dispatched events. Implementations must not block for
// long; Dispatch calls them sequentially.
type Consumer interface {
	OnTransition(event model.TrafficEvent)
	OnSample(sample model.NetworkSample)
}

// EventChannels provides typed channels for traffic events
type EventChannels struct {
	Transitions chan model.TrafficEvent
	Samples     chan model.NetworkSample

	logger  *slog.Logger
	dropped atomic.Int64

	// Graceful shutdown
	done   chan struct{}
	closed atomic.Bool
}

// NewEventChannels creates a new EventChannels hub with configured buffer sizes
func NewEventChannels(cfg EventChannelsConfig, logger *slog.Logger) *EventChannels {
	if cfg.TransitionBufferSize <= 0 {
		cfg.TransitionBufferSize = DefaultTransitionBufferSize
	}
	if cfg.SampleBufferSize <= 0 {
		cfg.SampleBufferSize = DefaultSampleBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventChannels{
		Transitions: make(chan model.TrafficEvent, cfg.TransitionBufferSize),
		Samples:     make(chan model.NetworkSample, cfg.SampleBufferSize),
		logger:      logger.With("component", "channels"),
		done:        make(chan struct{}),
	}
}

// Record publishes a transition without blocking. It satisfies
// light.Recorder and never returns an error: a full buffer drops the event.
func (ec *EventChannels) Record(event model.TrafficEvent) error {
	if ec.closed.Load() {
		return nil
	}
	select {
	case ec.Transitions <- event:
	default:
		ec.dropped.Add(1)
		ec.logger.Warn("transition channel full, dropping event",
			"intersection", event.Intersection,
			"state", event.State,
		)
	}
	return nil
}

// PublishSample publishes a network sample without blocking
func (ec *EventChannels) PublishSample(sample model.NetworkSample) {
	if ec.closed.Load() {
		return
	}
	select {
	case ec.Samples <- sample:
	default:
		ec.dropped.Add(1)
		ec.logger.Warn("sample channel full, dropping sample",
			"intersection", sample.Intersection,
		)
	}
}

// Dispatch forwards events to every consumer until ctx is cancelled or Close
// is called. Buffered events are drained before it returns.
func (ec *EventChannels) Dispatch(ctx context.Context, consumers ...Consumer) {
	for {
		select {
		case event := <-ec.Transitions:
			for _, c := range consumers {
				c.OnTransition(event)
			}
		case sample := <-ec.Samples:
			for _, c := range consumers {
				c.OnSample(sample)
			}
		case <-ctx.Done():
			ec.drain(consumers)
			return
		case <-ec.done:
			ec.drain(consumers)
			return
		}
	}
}

func (ec *EventChannels) drain(consumers []Consumer) {
	for {
		select {
		case event := <-ec.Transitions:
			for _, c := range consumers {
				c.OnTransition(event)
			}
		case sample := <-ec.Samples:
			for _, c := range consumers {
				c.OnSample(sample)
			}
		default:
			return
		}
	}
}

// Dropped returns how many messages were discarded on full buffers
func (ec *EventChannels) Dropped() int64 {
	return ec.dropped.Load()
}

// Close signals Dispatch to drain and exit. The data channels stay open so a
// late publisher never panics; publishes after Close are ignored.
func (ec *EventChannels) Close() error {
	if ec.closed.CompareAndSwap(false, true) {
		close(ec.done)
	}
	return nil
}

// Done returns a channel that's closed when the EventChannels is shutting down
func (ec *EventChannels) Done() <-chan struct{} {
	return ec.done
}
