// Package eventlog appends traffic transition events to a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trafficlite/trafficlite/internal/model"
)

// DefaultPath is the log file used when none is configured
const DefaultPath = "traffic_data_log.json"

// TimestampLayout is the local-time format written to each line
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one line of the event log
type Record struct {
	Intersection string `json:"intersection"`
	State        string `json:"state"`
	Timestamp    string `json:"timestamp"`
	VehicleCount int    `json:"vehicle_count"`
}

// NewRecord converts a transition event into its log line form
func NewRecord(event model.TrafficEvent) Record {
	return Record{
		Intersection: event.Intersection,
		State:        event.State.String(),
		Timestamp:    event.Timestamp.Local().Format(TimestampLayout),
		VehicleCount: event.VehicleCount,
	}
}

// Time parses the line timestamp in local time
func (r Record) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, r.Timestamp, time.Local)
}

// Writer appends records to a single file. Each write opens the file in
// append mode and closes it again, so a line is complete once Record returns.
type Writer struct {
	path string
	mu   sync.Mutex
}

// Open prepares a writer for path, creating the parent directory. An existing
// file is never truncated.
func Open(path string) (*Writer, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create event log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close event log: %w", err)
	}

	return &Writer{path: path}, nil
}

// Path returns the file the writer appends to
func (w *Writer) Path() string {
	return w.path
}

// Record appends one event as a JSON line. It satisfies light.Recorder.
func (w *Writer) Record(event model.TrafficEvent) error {
	data, err := json.Marshal(NewRecord(event))
	if err != nil {
		return fmt.Errorf("marshal traffic event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write traffic event: %w", err)
	}
	return nil
}

// ReadAll parses every line of the log at path. A missing file yields an
// empty slice.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	records := []Record{}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", lineNum, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return records, nil
}

// Tail returns the last n records for intersection, or for every
// intersection when it is empty
func Tail(path, intersection string, n int) ([]Record, error) {
	all, err := ReadAll(path)
	if err != nil {
		return nil, err
	}

	out := []Record{}
	for _, r := range all {
		if intersection == "" || r.Intersection == intersection {
			out = append(out, r)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
