package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlite/trafficlite/internal/model"
)

type recordingConsumer struct {
	mu          sync.Mutex
	transitions []model.TrafficEvent
	samples     []model.NetworkSample
}

func (r *recordingConsumer) OnTransition(e model.TrafficEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, e)
}

func (r *recordingConsumer) OnSample(s model.NetworkSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingConsumer) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions), len(r.samples)
}

func TestDispatch_FansOutToEveryConsumer(t *testing.T) {
	ec := NewEventChannels(EventChannelsConfig{}, nil)
	a, b := &recordingConsumer{}, &recordingConsumer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		ec.Dispatch(ctx, a, b)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, ec.Record(model.TrafficEvent{Intersection: "A", State: model.StateRed, Sequence: i + 1}))
	}
	ec.PublishSample(model.NetworkSample{Intersection: "A", VehicleCount: 2, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		ta, sa := a.counts()
		tb, sb := b.counts()
		return ta == 5 && sa == 1 && tb == 5 && sb == 1
	}, time.Second, 5*time.Millisecond)

	a.mu.Lock()
	for i, e := range a.transitions {
		assert.Equal(t, i+1, e.Sequence)
	}
	a.mu.Unlock()

	require.NoError(t, ec.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not exit after Close")
	}
}

func TestRecord_FullBufferDrops(t *testing.T) {
	ec := NewEventChannels(EventChannelsConfig{TransitionBufferSize: 2, SampleBufferSize: 1}, nil)

	for i := 0; i < 5; i++ {
		assert.NoError(t, ec.Record(model.TrafficEvent{Intersection: "A"}))
	}
	ec.PublishSample(model.NetworkSample{})
	ec.PublishSample(model.NetworkSample{})

	assert.Len(t, ec.Transitions, 2)
	assert.Len(t, ec.Samples, 1)
	assert.EqualValues(t, 4, ec.Dropped())
}

func TestClose_DrainsAndIgnoresLatePublishes(t *testing.T) {
	ec := NewEventChannels(EventChannelsConfig{}, nil)
	c := &recordingConsumer{}

	require.NoError(t, ec.Record(model.TrafficEvent{Intersection: "A"}))
	ec.PublishSample(model.NetworkSample{Intersection: "A"})
	require.NoError(t, ec.Close())
	require.NoError(t, ec.Close())

	ec.Dispatch(context.Background(), c)
	tr, s := c.counts()
	assert.Equal(t, 1, tr)
	assert.Equal(t, 1, s)

	assert.NoError(t, ec.Record(model.TrafficEvent{Intersection: "B"}))
	ec.PublishSample(model.NetworkSample{Intersection: "B"})
	assert.Empty(t, ec.Transitions)
	assert.Empty(t, ec.Samples)

	select {
	case <-ec.Done():
	default:
		t.Fatal("Done must be closed")
	}
}
