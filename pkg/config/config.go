// Package config provides YAML-based configuration loading for the Sybl
// model client.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root client configuration.
type Config struct {
	// AppName optional logical name of the client process
	AppName string `mapstructure:"app_name"`

	// Coordinator holds connection settings for the Sybl coordinator
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`

	// Model identifies the registered model this client serves
	Model ModelConfig `mapstructure:"model"`

	// Session controls timers and limits of one connection attempt
	Session SessionConfig `mapstructure:"session"`

	// Reconnect controls the retry/backoff policy between attempts
	Reconnect ReconnectConfig `mapstructure:"reconnect"`

	// Dispatch controls execution scheduling
	Dispatch DispatchConfig `mapstructure:"dispatch"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`
}

// CoordinatorConfig addresses the coordinator and authenticates to it.
type CoordinatorConfig struct {
	// Address in scheme://host:port form. Schemes: tcp, quic, winpipe, mem.
	// A bare host:port is treated as tcp.
	Address string `mapstructure:"address"`

	// AccessToken is the opaque token issued at model registration. When
	// empty it is loaded from the credential store using Email/Model name.
	AccessToken string `mapstructure:"access_token"`

	// ModelID is the coordinator-assigned model identifier paired with the
	// access token.
	ModelID string `mapstructure:"model_id"`
}

// ModelConfig names the model for credential lookup and registration.
type ModelConfig struct {
	Email string `mapstructure:"email"`
	Name  string `mapstructure:"name"`
}

// SessionConfig holds per-connection timers and protocol limits.
type SessionConfig struct {
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"`

	// HeartbeatInterval is the maximum outbound silence before the session
	// emits a Heartbeat frame.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// HeartbeatTimeout is the maximum inbound silence (any frame counts)
	// before the connection is considered dead.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// DrainGrace bounds how long Stop waits for in-flight requests before
	// force-closing the transport.
	DrainGrace time.Duration `mapstructure:"drain_grace"`

	// MaxFrameBytes bounds a single inbound or outbound frame.
	MaxFrameBytes int `mapstructure:"max_frame_bytes"`
}

// ReconnectConfig bounds the supervisor backoff.
type ReconnectConfig struct {
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	BackoffJitter  time.Duration `mapstructure:"backoff_jitter"`

	// PermanentReasons lists RegistrationAck rejection reasons (substring
	// match, case-insensitive) that stop the supervisor instead of retrying.
	PermanentReasons []string `mapstructure:"permanent_reasons"`
}

// DispatchConfig sizes the execution worker pool.
type DispatchConfig struct {
	// Workers is the number of concurrent adapter executions.
	Workers int `mapstructure:"workers"`

	// QueueSize bounds requests waiting for a worker.
	QueueSize int `mapstructure:"queue_size"`

	// CompletedRetention keeps finished correlation ids around so duplicate
	// frames arriving late are still recognised.
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "sybl-client",
		Coordinator: CoordinatorConfig{
			Address: "tcp://sybl.tech:7000",
		},
		Session: SessionConfig{
			HandshakeTimeout:    10 * time.Second,
			RegistrationTimeout: 10 * time.Second,
			HeartbeatInterval:   5 * time.Second,
			HeartbeatTimeout:    20 * time.Second,
			DrainGrace:          15 * time.Second,
			MaxFrameBytes:       16 << 20,
		},
		Reconnect: ReconnectConfig{
			BackoffInitial:   500 * time.Millisecond,
			BackoffMax:       30 * time.Second,
			BackoffJitter:    100 * time.Millisecond,
			PermanentReasons: []string{"incompatible schema", "unknown model", "unauthorized"},
		},
		Dispatch: DispatchConfig{
			Workers:            4,
			QueueSize:          64,
			CompletedRetention: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/sybl.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix SYBL and `.`/`-` are replaced with `_`.
// Example: SYBL_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SYBL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("coordinator.address", cfg.Coordinator.Address)
	v.SetDefault("coordinator.access_token", cfg.Coordinator.AccessToken)
	v.SetDefault("coordinator.model_id", cfg.Coordinator.ModelID)
	v.SetDefault("model.email", cfg.Model.Email)
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("session.handshake_timeout", cfg.Session.HandshakeTimeout)
	v.SetDefault("session.registration_timeout", cfg.Session.RegistrationTimeout)
	v.SetDefault("session.heartbeat_interval", cfg.Session.HeartbeatInterval)
	v.SetDefault("session.heartbeat_timeout", cfg.Session.HeartbeatTimeout)
	v.SetDefault("session.drain_grace", cfg.Session.DrainGrace)
	v.SetDefault("session.max_frame_bytes", cfg.Session.MaxFrameBytes)
	v.SetDefault("reconnect.backoff_initial", cfg.Reconnect.BackoffInitial)
	v.SetDefault("reconnect.backoff_max", cfg.Reconnect.BackoffMax)
	v.SetDefault("reconnect.backoff_jitter", cfg.Reconnect.BackoffJitter)
	v.SetDefault("reconnect.permanent_reasons", cfg.Reconnect.PermanentReasons)
	v.SetDefault("dispatch.workers", cfg.Dispatch.Workers)
	v.SetDefault("dispatch.queue_size", cfg.Dispatch.QueueSize)
	v.SetDefault("dispatch.completed_retention", cfg.Dispatch.CompletedRetention)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("SYBL_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `sybl`
		v.SetConfigName("sybl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sybl"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.Coordinator.Address) == "" {
		return errors.New("coordinator.address must be set")
	}
	if c.Session.HeartbeatInterval <= 0 {
		c.Session.HeartbeatInterval = 5 * time.Second
	}
	if c.Session.HeartbeatTimeout <= c.Session.HeartbeatInterval {
		return fmt.Errorf("session.heartbeat_timeout must exceed heartbeat_interval (%v <= %v)",
			c.Session.HeartbeatTimeout, c.Session.HeartbeatInterval)
	}
	if c.Session.MaxFrameBytes <= 0 {
		c.Session.MaxFrameBytes = 16 << 20
	}
	if c.Reconnect.BackoffInitial <= 0 {
		c.Reconnect.BackoffInitial = 500 * time.Millisecond
	}
	if c.Reconnect.BackoffMax < c.Reconnect.BackoffInitial {
		c.Reconnect.BackoffMax = c.Reconnect.BackoffInitial
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 64
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
