// Package transport carries telemetry records from sensors to the receiver
// over a loopback TCP connection, one JSON record per connection.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/trafficlite/trafficlite/internal/model"
)

// ErrEmptyPayload is returned when a connection carried no bytes
var ErrEmptyPayload = errors.New("empty telemetry payload")

// wireRecord mirrors model.TelemetryRecord with a pointer count so a missing
// field can be told apart from zero
type wireRecord struct {
	Intersection string `json:"intersection" validate:"required"`
	VehicleCount *int   `json:"vehicle_count" validate:"required,gte=0"`
}

// Codec encodes and validates telemetry records
type Codec struct {
	validate    *validator.Validate
	maxVehicles int
}

// Unbounded disables the vehicle_count upper bound
const Unbounded = -1

// NewCodec creates a codec. vehicle_count must not exceed maxVehicles unless
// it is Unbounded (any negative value).
func NewCodec(maxVehicles int) *Codec {
	return &Codec{
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		maxVehicles: maxVehicles,
	}
}

// Encode validates and marshals a record
func (c *Codec) Encode(record model.TelemetryRecord) ([]byte, error) {
	count := record.VehicleCount
	if err := c.check(wireRecord{Intersection: record.Intersection, VehicleCount: &count}); err != nil {
		return nil, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode telemetry: %w", err)
	}
	return data, nil
}

// Decode parses and validates one record. Decoding is pure: the same payload
// always yields an equal record.
func (c *Codec) Decode(data []byte) (model.TelemetryRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.TelemetryRecord{}, ErrEmptyPayload
	}

	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("failed to decode telemetry: %w", err)
	}
	return c.fromWire(wire)
}

// DecodeFrom reads exactly one JSON value from r and validates it. It returns
// as soon as the value is complete, without waiting for EOF; bytes after the
// value are not read.
func (c *Codec) DecodeFrom(r io.Reader) (model.TelemetryRecord, error) {
	var wire wireRecord
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		if errors.Is(err, io.EOF) {
			return model.TelemetryRecord{}, ErrEmptyPayload
		}
		return model.TelemetryRecord{}, fmt.Errorf("failed to decode telemetry: %w", err)
	}
	return c.fromWire(wire)
}

func (c *Codec) fromWire(wire wireRecord) (model.TelemetryRecord, error) {
	if err := c.check(wire); err != nil {
		return model.TelemetryRecord{}, err
	}
	return model.TelemetryRecord{
		Intersection: wire.Intersection,
		VehicleCount: *wire.VehicleCount,
	}, nil
}

func (c *Codec) check(wire wireRecord) error {
	if err := c.validate.Struct(wire); err != nil {
		return fmt.Errorf("invalid telemetry: %w", err)
	}
	if c.maxVehicles >= 0 {
		if err := c.validate.Var(*wire.VehicleCount, "lte="+strconv.Itoa(c.maxVehicles)); err != nil {
			return fmt.Errorf("invalid telemetry: vehicle_count %d exceeds %d: %w", *wire.VehicleCount, c.maxVehicles, err)
		}
	}
	return nil
}
