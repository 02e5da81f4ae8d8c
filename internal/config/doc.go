// Package config handles configuration loading for chitchat-gateway.
//
// # Configuration File
//
// Location, in order of precedence:
//
//  1. The --config flag
//  2. The CHITCHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/chitchat/gateway.yaml (~/.config/chitchat/gateway.yaml)
//
// Files ending in .toml are parsed as TOML; everything else as YAML. Missing
// fields keep the values from Default.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  driver: postgres
//	  dsn: "${CHITCHAT_DATABASE_DSN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	realtime:
//	  write_timeout: "10s"
//	  pong_timeout: "60s"
//	  ping_interval: "54s"
//	  operation_timeout: "10s"
//	  dedupe_ttl: "5m"
//	sessions:
//	  sweep_interval: "1h"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//	  allowed_origins: ["https://chat.example.com"]
//	  shutdown_timeout: "15s"
//	database:
//	  driver: sqlite              # or postgres
//	  path: "~/.local/share/chitchat/chitchat.db"
//	chat:
//	  max_messages_per_channel: 100
//	  max_content_length: 4000
//	realtime:
//	  send_buffer: 64
//	  inbox_size: 16
//	  max_frame_bytes: 65536
//	  dedupe_size: 10000
//	logging:
//	  level: info                 # debug, info, warn, error
//	  format: text                # text or json
//	metrics:
//	  enabled: true
//	  path: /metrics
package config
