// ABOUTME: Configuration loading and parsing for chitchat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete chitchat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// AllowedOrigins restricts WebSocket handshakes from browsers; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig selects and locates the store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"` // sqlite
	DSN    string `yaml:"dsn" toml:"dsn"`   // postgres
}

// ChatConfig holds the retention engine limits
type ChatConfig struct {
	MaxMessagesPerChannel int `yaml:"max_messages_per_channel" toml:"max_messages_per_channel"`
	MaxContentLength      int `yaml:"max_content_length" toml:"max_content_length"`
}

// RealtimeConfig tunes WebSocket connections
type RealtimeConfig struct {
	SendBuffer    int   `yaml:"send_buffer" toml:"send_buffer"`
	InboxSize     int   `yaml:"inbox_size" toml:"inbox_size"`
	MaxFrameBytes int64 `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	DedupeSize    int   `yaml:"dedupe_size" toml:"dedupe_size"`

	WriteTimeout     time.Duration `yaml:"-" toml:"-"`
	PongTimeout      time.Duration `yaml:"-" toml:"-"`
	PingInterval     time.Duration `yaml:"-" toml:"-"`
	OperationTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw     string `yaml:"write_timeout" toml:"write_timeout"`
	PongTimeoutRaw      string `yaml:"pong_timeout" toml:"pong_timeout"`
	PingIntervalRaw     string `yaml:"ping_interval" toml:"ping_interval"`
	OperationTimeoutRaw string `yaml:"operation_timeout" toml:"operation_timeout"`
	DedupeTTLRaw        string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// SessionsConfig holds the session janitor configuration
type SessionsConfig struct {
	// SweepInterval is the period of the global expired-session sweep; 0 disables it.
	SweepInterval    time.Duration `yaml:"-" toml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval" toml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        "localhost:8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(DataDir(), "chitchat.db"),
		},
		Chat: ChatConfig{
			MaxMessagesPerChannel: 100,
			MaxContentLength:      4000,
		},
		Realtime: RealtimeConfig{
			SendBuffer:       64,
			InboxSize:        16,
			MaxFrameBytes:    64 << 10,
			DedupeSize:       10000,
			WriteTimeout:     10 * time.Second,
			PongTimeout:      60 * time.Second,
			PingInterval:     54 * time.Second,
			OperationTimeout: 10 * time.Second,
			DedupeTTL:        5 * time.Minute,
		},
		Sessions: SessionsConfig{
			SweepInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML. Environment
// variables in the format ${VAR_NAME} are expanded. Fields absent from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes configuration content. isTOML selects the format.
func Parse(content string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(content)

	cfg := Default()
	if isTOML {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Chat.MaxMessagesPerChannel < 1 {
		return fmt.Errorf("chat.max_messages_per_channel must be at least 1")
	}
	if c.Chat.MaxContentLength < 1 {
		return fmt.Errorf("chat.max_content_length must be at least 1")
	}

	rt := c.Realtime
	if rt.SendBuffer < 1 || rt.InboxSize < 1 || rt.DedupeSize < 1 {
		return fmt.Errorf("realtime.send_buffer, inbox_size and dedupe_size must be at least 1")
	}
	if rt.MaxFrameBytes < 512 {
		return fmt.Errorf("realtime.max_frame_bytes must be at least 512")
	}
	if rt.WriteTimeout <= 0 || rt.OperationTimeout <= 0 || rt.DedupeTTL <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}
	if rt.PingInterval <= 0 || rt.PingInterval >= rt.PongTimeout {
		return fmt.Errorf("realtime.ping_interval must be positive and shorter than realtime.pong_timeout")
	}

	if c.Sessions.SweepInterval < 0 {
		return fmt.Errorf("sessions.sweep_interval must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"realtime.write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"realtime.pong_timeout", cfg.Realtime.PongTimeoutRaw, &cfg.Realtime.PongTimeout},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"realtime.operation_timeout", cfg.Realtime.OperationTimeoutRaw, &cfg.Realtime.OperationTimeout},
		{"realtime.dedupe_ttl", cfg.Realtime.DedupeTTLRaw, &cfg.Realtime.DedupeTTL},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Path returns the path of the config file.
// Priority: flag value > CHITCHAT_CONFIG env var > XDG_CONFIG_HOME/chitchat/gateway.yaml > ~/.config/chitchat/gateway.yaml
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("CHITCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chitchat", "gateway.yaml")
}

// DataDir returns the chitchat data directory.
// Priority: XDG_DATA_HOME/chitchat > ~/.local/share/chitchat
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "chitchat")
}
