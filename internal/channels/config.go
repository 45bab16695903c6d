package channels

// Default buffer sizes
const (
	DefaultTransitionBufferSize = 256
	DefaultSampleBufferSize     = 256
)

// EventChannelsConfig configures buffer sizes for event channels
type EventChannelsConfig struct {
	TransitionBufferSize int
	SampleBufferSize     int
}
