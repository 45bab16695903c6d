package sensor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_StaysInRange(t *testing.T) {
	s := New("Intersection 1", DefaultMaxVehicles)

	seen := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		rec := s.Sample()
		require.Equal(t, "Intersection 1", rec.Intersection)
		require.GreaterOrEqual(t, rec.VehicleCount, 0)
		require.LessOrEqual(t, rec.VehicleCount, DefaultMaxVehicles)
		seen[rec.VehicleCount] = true
	}

	// Both bounds are reachable
	assert.True(t, seen[0], "expected 0 to be sampled")
	assert.True(t, seen[DefaultMaxVehicles], "expected max to be sampled")
}

func TestSample_UsesSource(t *testing.T) {
	var gotN int
	s := NewWithSource("Intersection 2", 5, func(n int) int {
		gotN = n
		return 4
	})

	rec := s.Sample()
	assert.Equal(t, 6, gotN, "upper bound is inclusive")
	assert.Equal(t, 4, rec.VehicleCount)
}

func TestNewWithSource_Defaults(t *testing.T) {
	s := NewWithSource("x", -1, nil)
	assert.Equal(t, DefaultMaxVehicles, s.MaxVehicles())

	zero := NewWithSource("x", 0, nil)
	for i := 0; i < 20; i++ {
		assert.Zero(t, zero.Sample().VehicleCount)
	}
}

func TestSample_Concurrent(t *testing.T) {
	s := New("Intersection 3", 5)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				rec := s.Sample()
				assert.LessOrEqual(t, rec.VehicleCount, 5)
			}
		}()
	}
	wg.Wait()
}

func TestFleet(t *testing.T) {
	fleet := Fleet([]string{"A", "B", "C"}, 7)

	require.Len(t, fleet, 3)
	for i, id := range []string{"A", "B", "C"} {
		assert.Equal(t, id, fleet[i].Intersection())
		assert.Equal(t, 7, fleet[i].MaxVehicles())
	}
}
