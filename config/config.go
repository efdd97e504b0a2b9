package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/mirror"
	"github.com/InsulaLabs/ntmirror/models"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSettleTimeout = 2 * time.Second
	DefaultLogLevel      = "info"
)

type Connection struct {
	Team     int    `yaml:"team,omitempty"`
	Server   string `yaml:"server,omitempty"` // takes precedence over team when set
	Port     int    `yaml:"port"`
	Identity string `yaml:"identity"`
	// How long to wait for the handshake before giving up on the target.
	SettleTimeout time.Duration `yaml:"settleTimeout"`
}

type Cache struct {
	ValueTTL time.Duration `yaml:"valueTTL"` // 0 keeps values until overwritten
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Writes per second, 0 is unlimited
	Burst int     `yaml:"burst"`
}

type Recorder struct {
	DefaultDuration time.Duration `yaml:"defaultDuration"`
	MaxDuration     time.Duration `yaml:"maxDuration"`
	PollInterval    time.Duration `yaml:"pollInterval"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Metrics struct {
	Addr string `yaml:"addr,omitempty"` // empty disables the /metrics listener
}

// Simulation describes the robot the command stands up on the in-process
// network when no real bus is available.
type Simulation struct {
	Team  int           `yaml:"team,omitempty"`
	Ping  time.Duration `yaml:"ping"`
	Drift time.Duration `yaml:"drift"`
}

type Mirror struct {
	Connection Connection        `yaml:"connection"`
	Cache      Cache             `yaml:"cache"`
	Writes     RateLimiterConfig `yaml:"writes"`
	Recorder   Recorder          `yaml:"recorder"`
	Logging    Logging           `yaml:"logging"`
	Metrics    Metrics           `yaml:"metrics"`
	Simulation Simulation        `yaml:"simulation"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrTargetMissing            = errors.New("connection.team or connection.server is required in config")
	ErrTeamInvalid              = errors.New("connection.team must be positive")
	ErrPortInvalid              = errors.New("connection.port must be between 1 and 65535")
	ErrSettleTimeoutInvalid     = errors.New("connection.settleTimeout cannot be negative")
	ErrValueTTLInvalid          = errors.New("cache.valueTTL cannot be negative")
	ErrWritesLimitInvalid       = errors.New("writes.limit cannot be negative")
	ErrWritesBurstInvalid       = errors.New("writes.burst cannot be negative")
	ErrRecorderDurationInvalid  = errors.New("recorder.defaultDuration cannot exceed recorder.maxDuration")
	ErrRecorderNegative         = errors.New("recorder durations cannot be negative")
	ErrLogLevelInvalid          = errors.New("logging.level must be one of debug, info, warn, error")
)

func LoadConfig(configFile string) (*Mirror, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrConfigFileUnreadable, "%s: %v", configFile, err)
	}
	return Parse(data)
}

// Parse validates a YAML document and fills in defaults for unset fields.
func Parse(data []byte) (*Mirror, error) {
	var cfg Mirror
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pkgerrors.Wrapf(ErrConfigFileUnmarshallable, "%v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Mirror) applyDefaults() {
	if c.Connection.Port == 0 {
		c.Connection.Port = models.DefaultPort
	}
	if c.Connection.Identity == "" {
		c.Connection.Identity = models.DefaultIdentity
	}
	if c.Connection.SettleTimeout == 0 {
		c.Connection.SettleTimeout = DefaultSettleTimeout
	}
	if c.Recorder.DefaultDuration == 0 {
		c.Recorder.DefaultDuration = mirror.DefaultRecordDuration
	}
	if c.Recorder.MaxDuration == 0 {
		c.Recorder.MaxDuration = mirror.DefaultMaxRecord
	}
	if c.Recorder.PollInterval == 0 {
		c.Recorder.PollInterval = mirror.DefaultPollInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Simulation.Team == 0 && c.Connection.Server == "" {
		c.Simulation.Team = c.Connection.Team
	}
}

func (c *Mirror) Validate() error {
	if c.Connection.Team < 0 {
		return ErrTeamInvalid
	}
	if c.Connection.Team == 0 && c.Connection.Server == "" {
		return ErrTargetMissing
	}
	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return ErrPortInvalid
	}
	if c.Connection.SettleTimeout < 0 {
		return ErrSettleTimeoutInvalid
	}
	if c.Cache.ValueTTL < 0 {
		return ErrValueTTLInvalid
	}
	if c.Writes.Limit < 0 {
		return ErrWritesLimitInvalid
	}
	if c.Writes.Burst < 0 {
		return ErrWritesBurstInvalid
	}
	if c.Recorder.DefaultDuration < 0 || c.Recorder.MaxDuration < 0 || c.Recorder.PollInterval < 0 {
		return ErrRecorderNegative
	}
	if c.Recorder.DefaultDuration > c.Recorder.MaxDuration {
		return ErrRecorderDurationInvalid
	}
	if _, ok := parseLevel(c.Logging.Level); !ok {
		return ErrLogLevelInvalid
	}
	return nil
}

func (c *Mirror) Target() models.ConnectionTarget {
	return models.ConnectionTarget{
		Team:     c.Connection.Team,
		Server:   c.Connection.Server,
		Port:     c.Connection.Port,
		Identity: c.Connection.Identity,
	}
}

// ManagerConfig builds the mirror configuration for a manager over b.
func (c *Mirror) ManagerConfig(b bus.Bus, reg prometheus.Registerer) *mirror.Config {
	limit := rate.Limit(c.Writes.Limit)
	if c.Writes.Limit == 0 {
		limit = rate.Inf
	}
	return &mirror.Config{
		Bus:                   b,
		ValueTTL:              c.Cache.ValueTTL,
		WriteLimit:            limit,
		WriteBurst:            c.Writes.Burst,
		DefaultRecordDuration: c.Recorder.DefaultDuration,
		MaxRecordDuration:     c.Recorder.MaxDuration,
		PollInterval:          c.Recorder.PollInterval,
		Registerer:            reg,
	}
}

// SlogLevel returns the configured level, or info if the level is unknown.
func (l Logging) SlogLevel() slog.Level {
	lvl, _ := parseLevel(l.Level)
	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// GenerateConfig returns a starting configuration that mirrors a simulated
// robot for team 1234.
func GenerateConfig() *Mirror {
	return &Mirror{
		Connection: Connection{
			Team:          1234,
			Port:          models.DefaultPort,
			Identity:      models.DefaultIdentity,
			SettleTimeout: DefaultSettleTimeout,
		},
		Cache: Cache{
			ValueTTL: 0,
		},
		Writes: RateLimiterConfig{Limit: 50.0, Burst: 100},
		Recorder: Recorder{
			DefaultDuration: mirror.DefaultRecordDuration,
			MaxDuration:     mirror.DefaultMaxRecord,
			PollInterval:    mirror.DefaultPollInterval,
		},
		Logging: Logging{Level: DefaultLogLevel},
		Simulation: Simulation{
			Team:  1234,
			Ping:  4 * time.Millisecond,
			Drift: 250 * time.Millisecond,
		},
	}
}

// Marshal renders the configuration as YAML.
func (c *Mirror) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
