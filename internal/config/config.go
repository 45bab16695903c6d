// Package config loads the trafficlite configuration from YAML with
// TRAFFIC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Controller ControllerConfig `yaml:"controller"`
	EventLog   EventLogConfig   `yaml:"event_log"`
	Channel    ChannelConfig    `yaml:"channel"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Host             string `yaml:"host" validate:"required_if=Enabled true"`
	Port             int    `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeoutMS    int    `yaml:"read_timeout_ms" validate:"gte=0"`
	WriteTimeoutMS   int    `yaml:"write_timeout_ms" validate:"gte=0"`
	AuthSecret       string `yaml:"auth_secret" validate:"omitempty,min=32"`
	TokenExpiryHours int    `yaml:"token_expiry_hours" validate:"gte=0"`
}

type TransportConfig struct {
	Address         string `yaml:"address" validate:"required,hostname_port"`
	AcceptTimeoutMS int    `yaml:"accept_timeout_ms" validate:"gt=0"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms" validate:"gt=0"`
	DialTimeoutMS   int    `yaml:"dial_timeout_ms" validate:"gt=0"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes" validate:"gt=0"`
}

type SensorsConfig struct {
	Intersections      []string `yaml:"intersections" validate:"required,min=1,unique,dive,required"`
	MaxVehicles        int      `yaml:"max_vehicles" validate:"gte=0"`
	ProducerIntervalMS int      `yaml:"producer_interval_ms" validate:"gt=0"`
}

type ControllerConfig struct {
	GreenThreshold   int `yaml:"green_threshold" validate:"gte=0"`
	RedDurationMS    int `yaml:"red_duration_ms" validate:"gte=0"`
	YellowDurationMS int `yaml:"yellow_duration_ms" validate:"gte=0"`
	GreenDurationMS  int `yaml:"green_duration_ms" validate:"gte=0"`
	Iterations       int `yaml:"iterations" validate:"gt=0"`
}

type EventLogConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type ChannelConfig struct {
	TransitionChannelSize int `yaml:"transition_channel_size" validate:"gt=0"`
	SampleChannelSize     int `yaml:"sample_channel_size" validate:"gt=0"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns" validate:"gte=0"`
	MinConns                 int `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes" validate:"gte=0"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes" validate:"gte=0"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds" validate:"gte=0"`
}

type DatabaseConfig struct {
	Enabled         bool       `yaml:"enabled"`
	Host            string     `yaml:"host" validate:"required_if=Enabled true"`
	Port            int        `yaml:"port" validate:"gte=0,lte=65535"`
	User            string     `yaml:"user"`
	Password        string     `yaml:"password"`
	DBName          string     `yaml:"dbname" validate:"required_if=Enabled true"`
	SSLMode         string     `yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	ConnectRetries  int        `yaml:"connect_retries" validate:"gte=0"`
	BatchSize       int        `yaml:"batch_size" validate:"gte=0"`
	FlushIntervalMS int        `yaml:"flush_interval_ms" validate:"gte=0"`
	MaxRequeue      int        `yaml:"max_requeue" validate:"gte=0"`
	Pool            PoolConfig `yaml:"pool"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json text"`
	Output   string `yaml:"output" validate:"oneof=stdout stderr file"`
	FilePath string `yaml:"file_path" validate:"required_if=Output file"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Enabled:          true,
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeoutMS:    30000,
			WriteTimeoutMS:   30000,
			TokenExpiryHours: 24,
		},
		Transport: TransportConfig{
			Address:         "127.0.0.1:12345",
			AcceptTimeoutMS: 1000,
			ReadTimeoutMS:   2000,
			DialTimeoutMS:   2000,
			MaxPayloadBytes: 1024,
		},
		Sensors: SensorsConfig{
			Intersections:      []string{"Intersection 1", "Intersection 2", "Intersection 3"},
			MaxVehicles:        5,
			ProducerIntervalMS: 5000,
		},
		Controller: ControllerConfig{
			GreenThreshold:   60,
			RedDurationMS:    10000,
			YellowDurationMS: 5000,
			GreenDurationMS:  15000,
			Iterations:       10,
		},
		EventLog: EventLogConfig{
			Path: "traffic_data_log.json",
		},
		Channel: ChannelConfig{
			TransitionChannelSize: 256,
			SampleChannelSize:     256,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "trafficlite",
			DBName:          "trafficlite",
			SSLMode:         "disable",
			ConnectRetries:  5,
			BatchSize:       100,
			FlushIntervalMS: 500,
			MaxRequeue:      3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
	cfg.Database.Pool.ApplyDefaults()
	return cfg
}

// Load reads configuration from file over the defaults and applies
// environment variable overrides. An empty path loads the defaults only.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	cfg.Database.Pool.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml keys instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Database.Pool.MinConns > c.Database.Pool.MaxConns {
		return fmt.Errorf("database.pool.min_conns (%d) exceeds max_conns (%d)", c.Database.Pool.MinConns, c.Database.Pool.MaxConns)
	}
	return nil
}

// applyEnvOverrides checks for environment variables with TRAFFIC_ prefix
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"TRAFFIC_SERVER_HOST":        &cfg.Server.Host,
		"TRAFFIC_SERVER_AUTH_SECRET": &cfg.Server.AuthSecret,
		"TRAFFIC_TRANSPORT_ADDRESS":  &cfg.Transport.Address,
		"TRAFFIC_EVENT_LOG_PATH":     &cfg.EventLog.Path,
		"TRAFFIC_DATABASE_HOST":      &cfg.Database.Host,
		"TRAFFIC_DATABASE_USER":      &cfg.Database.User,
		"TRAFFIC_DATABASE_PASSWORD":  &cfg.Database.Password,
		"TRAFFIC_DATABASE_DBNAME":    &cfg.Database.DBName,
		"TRAFFIC_LOGGING_LEVEL":      &cfg.Logging.Level,
		"TRAFFIC_LOGGING_FORMAT":     &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TRAFFIC_SERVER_PORT":                  &cfg.Server.Port,
		"TRAFFIC_SENSORS_MAX_VEHICLES":         &cfg.Sensors.MaxVehicles,
		"TRAFFIC_SENSORS_PRODUCER_INTERVAL_MS": &cfg.Sensors.ProducerIntervalMS,
		"TRAFFIC_CONTROLLER_ITERATIONS":        &cfg.Controller.Iterations,
		"TRAFFIC_CONTROLLER_GREEN_THRESHOLD":   &cfg.Controller.GreenThreshold,
		"TRAFFIC_DATABASE_PORT":                &cfg.Database.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"TRAFFIC_SERVER_ENABLED":   &cfg.Server.Enabled,
		"TRAFFIC_DATABASE_ENABLED": &cfg.Database.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("TRAFFIC_SENSORS_INTERSECTIONS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.Sensors.Intersections = ids
	}

	return nil
}

// Address returns the HTTP listen address
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ReadTimeout returns the read timeout as a duration
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the write timeout as a duration
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// TokenExpiry returns the API token lifetime
func (s *ServerConfig) TokenExpiry() time.Duration {
	return time.Duration(s.TokenExpiryHours) * time.Hour
}

// AcceptTimeout returns the receiver accept poll interval
func (t *TransportConfig) AcceptTimeout() time.Duration {
	return time.Duration(t.AcceptTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the per-connection read deadline
func (t *TransportConfig) ReadTimeout() time.Duration {
	return time.Duration(t.ReadTimeoutMS) * time.Millisecond
}

// DialTimeout returns the sender connect timeout
func (t *TransportConfig) DialTimeout() time.Duration {
	return time.Duration(t.DialTimeoutMS) * time.Millisecond
}

// ProducerInterval returns the pause between producer cycles
func (s *SensorsConfig) ProducerInterval() time.Duration {
	return time.Duration(s.ProducerIntervalMS) * time.Millisecond
}

func (c *ControllerConfig) RedDuration() time.Duration {
	return time.Duration(c.RedDurationMS) * time.Millisecond
}

func (c *ControllerConfig) YellowDuration() time.Duration {
	return time.Duration(c.YellowDurationMS) * time.Millisecond
}

func (c *ControllerConfig) GreenDuration() time.Duration {
	return time.Duration(c.GreenDurationMS) * time.Millisecond
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// FlushInterval returns the store batch flush interval
func (d *DatabaseConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalMS) * time.Millisecond
}

// ApplyDefaults sets default values for pool configuration
func (p *PoolConfig) ApplyDefaults() {
	if p.MaxConns == 0 {
		p.MaxConns = 10
	}
	if p.MinConns == 0 {
		p.MinConns = 1
	}
	if p.MaxConnLifetimeMinutes == 0 {
		p.MaxConnLifetimeMinutes = 90
	}
	if p.MaxConnIdleTimeMinutes == 0 {
		p.MaxConnIdleTimeMinutes = 20
	}
	if p.HealthCheckPeriodSeconds == 0 {
		p.HealthCheckPeriodSeconds = 45
	}
}

// MaxConnLifetime returns the max connection lifetime as a duration
func (p *PoolConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}

// MaxConnIdleTime returns the max connection idle time as a duration
func (p *PoolConfig) MaxConnIdleTime() time.Duration {
	return time.Duration(p.MaxConnIdleTimeMinutes) * time.Minute
}

// HealthCheckPeriod returns the health check period as a duration
func (p *PoolConfig) HealthCheckPeriod() time.Duration {
	return time.Duration(p.HealthCheckPeriodSeconds) * time.Second
}
