// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Autostart  AutostartConfig  `yaml:"autostart"`
	Persistent PersistentConfig `yaml:"persistent"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the externally visible URL used in /mcp/config and /mcp/health.
	// Derived from http_addr when empty.
	BaseURL string `yaml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret signs admin API tokens. The admin API is disabled when empty.
	JWTSecret string `yaml:"jwt_secret"`
	// LegacyTokens enables the single per-account api_token fallback.
	LegacyTokens *bool `yaml:"legacy_tokens"`
}

// LegacyTokensEnabled reports whether the per-account token fallback is on (default true).
func (a AuthConfig) LegacyTokensEnabled() bool {
	return a.LegacyTokens == nil || *a.LegacyTokens
}

// GatewayConfig holds front door and backend proxy settings
type GatewayConfig struct {
	SelfSlug string `yaml:"self_slug"`

	ToolCacheTTL      time.Duration `yaml:"-"`
	SessionTTL        time.Duration `yaml:"-"`
	InitTimeout       time.Duration `yaml:"-"`
	CallTimeout       time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	StreamMax         time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ToolCacheTTLRaw      string `yaml:"tool_cache_ttl"`
	SessionTTLRaw        string `yaml:"session_ttl"`
	InitTimeoutRaw       string `yaml:"init_timeout"`
	CallTimeoutRaw       string `yaml:"call_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	StreamMaxRaw         string `yaml:"stream_max"`
}

// AutostartConfig controls launching backend processes on connection failure
type AutostartConfig struct {
	Enabled *bool  `yaml:"enabled"`
	RunDir  string `yaml:"run_dir"` // PID and log files live here

	PollInterval     time.Duration `yaml:"-"`
	PollTimeout      time.Duration `yaml:"-"`
	AsyncPollTimeout time.Duration `yaml:"-"`

	PollIntervalRaw     string `yaml:"poll_interval"`
	PollTimeoutRaw      string `yaml:"poll_timeout"`
	AsyncPollTimeoutRaw string `yaml:"async_poll_timeout"`
}

// IsEnabled reports whether auto-start is on (default true).
func (a AutostartConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// PersistentConfig controls the long-lived SSE connection manager
type PersistentConfig struct {
	Enabled bool `yaml:"enabled"`

	IdleTimeout      time.Duration `yaml:"-"`
	CallTimeout      time.Duration `yaml:"-"`
	HandshakeTimeout time.Duration `yaml:"-"`
	ReapInterval     time.Duration `yaml:"-"`

	IdleTimeoutRaw      string `yaml:"idle_timeout"`
	CallTimeoutRaw      string `yaml:"call_timeout"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout"`
	ReapIntervalRaw     string `yaml:"reap_interval"`
}

// CacheConfig holds the optional shared session cache
type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset values get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if !slugPattern.MatchString(c.Gateway.SelfSlug) {
		return fmt.Errorf("gateway.self_slug %q must match %s", c.Gateway.SelfSlug, slugPattern.String())
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// applyDefaults fills in values left unset by the config file.
func (c *Config) applyDefaults() {
	if c.Gateway.SelfSlug == "" {
		c.Gateway.SelfSlug = "switchboard"
	}
	setDefault(&c.Gateway.ToolCacheTTL, time.Hour)
	setDefault(&c.Gateway.SessionTTL, 30*time.Minute)
	setDefault(&c.Gateway.InitTimeout, 10*time.Second)
	setDefault(&c.Gateway.CallTimeout, 30*time.Second)
	setDefault(&c.Gateway.HeartbeatInterval, 5*time.Second)
	setDefault(&c.Gateway.StreamMax, 30*time.Second)

	if c.Autostart.RunDir == "" {
		c.Autostart.RunDir = os.TempDir()
	}
	setDefault(&c.Autostart.PollInterval, 500*time.Millisecond)
	setDefault(&c.Autostart.PollTimeout, 10*time.Second)
	setDefault(&c.Autostart.AsyncPollTimeout, 15*time.Second)

	setDefault(&c.Persistent.IdleTimeout, 1800*time.Second)
	setDefault(&c.Persistent.CallTimeout, 120*time.Second)
	setDefault(&c.Persistent.HandshakeTimeout, 10*time.Second)
	setDefault(&c.Persistent.ReapInterval, time.Minute)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

// durationField pairs a raw YAML string with its parsed destination.
type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"gateway.tool_cache_ttl", cfg.Gateway.ToolCacheTTLRaw, &cfg.Gateway.ToolCacheTTL},
		{"gateway.session_ttl", cfg.Gateway.SessionTTLRaw, &cfg.Gateway.SessionTTL},
		{"gateway.init_timeout", cfg.Gateway.InitTimeoutRaw, &cfg.Gateway.InitTimeout},
		{"gateway.call_timeout", cfg.Gateway.CallTimeoutRaw, &cfg.Gateway.CallTimeout},
		{"gateway.heartbeat_interval", cfg.Gateway.HeartbeatIntervalRaw, &cfg.Gateway.HeartbeatInterval},
		{"gateway.stream_max", cfg.Gateway.StreamMaxRaw, &cfg.Gateway.StreamMax},
		{"autostart.poll_interval", cfg.Autostart.PollIntervalRaw, &cfg.Autostart.PollInterval},
		{"autostart.poll_timeout", cfg.Autostart.PollTimeoutRaw, &cfg.Autostart.PollTimeout},
		{"autostart.async_poll_timeout", cfg.Autostart.AsyncPollTimeoutRaw, &cfg.Autostart.AsyncPollTimeout},
		{"persistent.idle_timeout", cfg.Persistent.IdleTimeoutRaw, &cfg.Persistent.IdleTimeout},
		{"persistent.call_timeout", cfg.Persistent.CallTimeoutRaw, &cfg.Persistent.CallTimeout},
		{"persistent.handshake_timeout", cfg.Persistent.HandshakeTimeoutRaw, &cfg.Persistent.HandshakeTimeout},
		{"persistent.reap_interval", cfg.Persistent.ReapIntervalRaw, &cfg.Persistent.ReapInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
