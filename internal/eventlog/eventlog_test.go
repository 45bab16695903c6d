package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trafficlite/trafficlite/internal/model"
)

func TestNewRecord(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	r := NewRecord(model.TrafficEvent{
		Intersection: "Intersection 1",
		State:        model.StateYellow,
		Timestamp:    ts,
		VehicleCount: 3,
		Sequence:     4,
	})

	assert.Equal(t, Record{
		Intersection: "Intersection 1",
		State:        "YELLOW",
		Timestamp:    "2024-03-09 14:05:07",
		VehicleCount: 3,
	}, r)

	parsed, err := r.Time()
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestWriter_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "traffic_data_log.json")

	w, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	for i, state := range []model.LightState{model.StateRed, model.StateGreen} {
		require.NoError(t, w.Record(model.TrafficEvent{
			Intersection: "Intersection 2",
			State:        state,
			Timestamp:    time.Now(),
			VehicleCount: i,
		}))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &raw))
	assert.Len(t, raw, 4)
	assert.Equal(t, "Intersection 2", raw["intersection"])
	assert.Equal(t, "GREEN", raw["state"])
	assert.EqualValues(t, 1, raw["vehicle_count"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, raw["timestamp"])
}

func TestOpen_DoesNotTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"intersection":"A","state":"RED","timestamp":"2024-01-01 00:00:00","vehicle_count":0}`+"\n"), 0644))

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Record(model.TrafficEvent{Intersection: "B", State: model.StateRed, Timestamp: time.Now()}))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Intersection)
	assert.Equal(t, "B", records[1].Intersection)
}

func TestWriter_ConcurrentLinesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	w, err := Open(path)
	require.NoError(t, err)

	const writers, perWriter = 6, 50
	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, w.Record(model.TrafficEvent{
					Intersection: fmt.Sprintf("Intersection %d", g),
					State:        model.StateYellow,
					Timestamp:    time.Now(),
					VehicleCount: i,
				}))
			}
		}(g)
	}
	wg.Wait()

	records, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, records, writers*perWriter)
}

func TestReadAll_Missing(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadAll_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0644))

	_, err := ReadAll(path)
	assert.ErrorContains(t, err, "line 1")
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	w, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		for _, id := range []string{"A", "B"} {
			require.NoError(t, w.Record(model.TrafficEvent{Intersection: id, State: model.StateRed, Timestamp: time.Now(), VehicleCount: i}))
		}
	}

	tail, err := Tail(path, "B", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 3, tail[0].VehicleCount)
	assert.Equal(t, 4, tail[1].VehicleCount)

	all, err := Tail(path, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}
