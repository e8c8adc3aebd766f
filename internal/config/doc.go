// Package config handles configuration loading for switchboard.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and defaults for every timing value.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SWITCHBOARD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/switchboard/gateway.yaml
//  3. ~/.config/switchboard/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://mcp.example.com"   # optional, advertised in /mcp/config
//
//	database:
//	  path: "/var/lib/switchboard/gateway.db"
//
//	auth:
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"  # enables the admin API
//	  legacy_tokens: true                      # per-account api_token fallback
//
//	gateway:
//	  self_slug: "switchboard"    # namespace of the built-in tools
//	  tool_cache_ttl: "1h"
//	  session_ttl: "30m"
//	  init_timeout: "10s"
//	  call_timeout: "30s"
//	  heartbeat_interval: "5s"
//	  stream_max: "30s"
//
//	autostart:
//	  enabled: true
//	  run_dir: "/tmp"             # mcp-server-<slug>.pid / .log
//	  poll_interval: "500ms"
//	  poll_timeout: "10s"
//	  async_poll_timeout: "15s"
//
//	persistent:
//	  enabled: false
//	  idle_timeout: "30m"
//	  call_timeout: "120s"
//	  handshake_timeout: "10s"
//
//	cache:
//	  redis_url: "redis://localhost:6379/0"  # optional shared session cache
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Backend Catalogs
//
// LoadBackendCatalog reads a TOML file of [[backend]] tables used by
// "switchboard backends import".
package config
