package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:12345", cfg.Transport.Address)
	assert.Equal(t, []string{"Intersection 1", "Intersection 2", "Intersection 3"}, cfg.Sensors.Intersections)
	assert.Equal(t, 5, cfg.Sensors.MaxVehicles)
	assert.Equal(t, 60, cfg.Controller.GreenThreshold)
	assert.Equal(t, 10, cfg.Controller.Iterations)
	assert.Equal(t, 10*time.Second, cfg.Controller.RedDuration())
	assert.Equal(t, 5*time.Second, cfg.Controller.YellowDuration())
	assert.Equal(t, 15*time.Second, cfg.Controller.GreenDuration())
	assert.Equal(t, 5*time.Second, cfg.Sensors.ProducerInterval())
	assert.Equal(t, time.Second, cfg.Transport.AcceptTimeout())
	assert.Equal(t, "traffic_data_log.json", cfg.EventLog.Path)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address())
	assert.False(t, cfg.Database.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  address: "127.0.0.1:23456"
sensors:
  intersections: ["North", "South"]
controller:
  iterations: 3
  red_duration_ms: 100
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:23456", cfg.Transport.Address)
	assert.Equal(t, []string{"North", "South"}, cfg.Sensors.Intersections)
	assert.Equal(t, 3, cfg.Controller.Iterations)
	assert.Equal(t, 100*time.Millisecond, cfg.Controller.RedDuration())
	assert.Equal(t, 5000, cfg.Controller.YellowDurationMS, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRAFFIC_TRANSPORT_ADDRESS", "localhost:40000")
	t.Setenv("TRAFFIC_CONTROLLER_ITERATIONS", "4")
	t.Setenv("TRAFFIC_SENSORS_INTERSECTIONS", "A, B ,C")
	t.Setenv("TRAFFIC_DATABASE_ENABLED", "true")
	t.Setenv("TRAFFIC_DATABASE_PASSWORD", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:40000", cfg.Transport.Address)
	assert.Equal(t, 4, cfg.Controller.Iterations)
	assert.Equal(t, []string{"A", "B", "C"}, cfg.Sensors.Intersections)
	assert.True(t, cfg.Database.Enabled)
	assert.Contains(t, cfg.Database.ConnString(), "s3cret")
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("TRAFFIC_CONTROLLER_ITERATIONS", "ten")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRAFFIC_CONTROLLER_ITERATIONS")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "transport: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad transport address", func(c *Config) { c.Transport.Address = "nowhere" }, "address"},
		{"no intersections", func(c *Config) { c.Sensors.Intersections = nil }, "intersections"},
		{"duplicate intersections", func(c *Config) { c.Sensors.Intersections = []string{"A", "A"} }, "intersections"},
		{"empty intersection id", func(c *Config) { c.Sensors.Intersections = []string{"A", ""} }, "intersections"},
		{"negative max vehicles", func(c *Config) { c.Sensors.MaxVehicles = -1 }, "max_vehicles"},
		{"zero iterations", func(c *Config) { c.Controller.Iterations = 0 }, "iterations"},
		{"zero producer interval", func(c *Config) { c.Sensors.ProducerIntervalMS = 0 }, "producer_interval_ms"},
		{"short auth secret", func(c *Config) { c.Server.AuthSecret = "short" }, "auth_secret"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }, "file_path"},
		{"database enabled without host", func(c *Config) { c.Database.Enabled = true; c.Database.Host = "" }, "host"},
		{"bad ssl mode", func(c *Config) { c.Database.SSLMode = "sometimes" }, "ssl_mode"},
		{"pool min above max", func(c *Config) { c.Database.Pool.MinConns = 20 }, "min_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDumpExampleConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DumpExampleConfig(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# ====="))
	assert.Contains(t, out, "TRAFFIC_<SECTION>_<KEY>")

	var parsed Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "127.0.0.1:12345", parsed.Transport.Address)
	assert.Equal(t, 10, parsed.Controller.Iterations)

	// The example must load cleanly
	path := writeConfig(t, out)
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"component":"test"`)
}

func TestInitLogger_File(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, closer, err := InitLogger(LoggingConfig{Level: "info", Format: "text", Output: "file", FilePath: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
