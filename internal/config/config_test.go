// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:9000"
  allowed_origins: ["https://chat.example.com"]
  shutdown_timeout: "5s"

database:
  driver: sqlite
  path: "./test.db"

chat:
  max_messages_per_channel: 3

realtime:
  send_buffer: 8
  ping_interval: "20s"
  pong_timeout: "30s"
  dedupe_ttl: "1m"

sessions:
  sweep_interval: "0s"

logging:
  level: debug
  format: json

metrics:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Chat.MaxMessagesPerChannel)
	assert.Equal(t, 4000, cfg.Chat.MaxContentLength, "unset fields keep defaults")
	assert.Equal(t, 8, cfg.Realtime.SendBuffer)
	assert.Equal(t, 16, cfg.Realtime.InboxSize)
	assert.Equal(t, 20*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.Realtime.PongTimeout)
	assert.Equal(t, time.Minute, cfg.Realtime.DedupeTTL)
	assert.Equal(t, 10*time.Second, cfg.Realtime.OperationTimeout)
	assert.Zero(t, cfg.Sessions.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "localhost:7000"

[database]
driver = "postgres"
dsn = "postgres://chitchat@localhost/chitchat"

[chat]
max_messages_per_channel = 50

[realtime]
operation_timeout = "3s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:7000", cfg.Server.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://chitchat@localhost/chitchat", cfg.Database.DSN)
	assert.Equal(t, 50, cfg.Chat.MaxMessagesPerChannel)
	assert.Equal(t, 3*time.Second, cfg.Realtime.OperationTimeout)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CHITCHAT_TEST_DSN", "postgres://from-env")
	t.Setenv("CHITCHAT_TEST_ADDR", "127.0.0.1:8181")

	cfg, err := Parse(`
server:
  http_addr: "${CHITCHAT_TEST_ADDR}"
database:
  driver: postgres
  dsn: "${CHITCHAT_TEST_DSN}"
`, false)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8181", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres://from-env", cfg.Database.DSN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Parse("server: [", false)
	assert.ErrorContains(t, err, "parsing config file")

	_, err = Parse("realtime:\n  write_timeout: soon\n", false)
	assert.ErrorContains(t, err, "realtime.write_timeout")
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"zero cap", func(c *Config) { c.Chat.MaxMessagesPerChannel = 0 }, "max_messages_per_channel"},
		{"zero content", func(c *Config) { c.Chat.MaxContentLength = 0 }, "max_content_length"},
		{"zero buffer", func(c *Config) { c.Realtime.SendBuffer = 0 }, "send_buffer"},
		{"tiny frames", func(c *Config) { c.Realtime.MaxFrameBytes = 10 }, "max_frame_bytes"},
		{"ping after pong", func(c *Config) { c.Realtime.PingInterval = 2 * c.Realtime.PongTimeout }, "ping_interval"},
		{"zero timeout", func(c *Config) { c.Realtime.OperationTimeout = 0 }, "timeouts"},
		{"negative sweep", func(c *Config) { c.Sessions.SweepInterval = -time.Second }, "sweep_interval"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CHITCHAT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	assert.Equal(t, "/flag.yaml", Path("/flag.yaml"))
	assert.Equal(t, filepath.Join("/xdg", "chitchat", "gateway.yaml"), Path(""))

	t.Setenv("CHITCHAT_CONFIG", "/env.toml")
	assert.Equal(t, "/env.toml", Path(""))
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data-home")
	assert.Equal(t, filepath.Join("/data-home", "chitchat"), DataDir())
}
