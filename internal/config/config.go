// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default timeouts for backend operations and tool invocations.
const (
	DefaultCreateTimeout  = 10 * time.Second
	DefaultTurnTimeout    = 90 * time.Second
	DefaultHistoryTimeout = 30 * time.Second
	DefaultToolTimeout    = 30 * time.Second
)

// Instruction source modes.
const (
	InstructionModeCached  = "cached"
	InstructionModePerCall = "per_call"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
	Agents       []AgentConfig      `yaml:"agents" toml:"agents"`
	Tools        ToolsConfig        `yaml:"tools" toml:"tools"`
	Instructions InstructionsConfig `yaml:"instructions" toml:"instructions"`
	Dedupe       DedupeConfig       `yaml:"dedupe" toml:"dedupe"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// AllowOrigins lists host patterns allowed to open cross-origin websockets.
	AllowOrigins []string `yaml:"allow_origins" toml:"allow_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig holds the path of the SQLite database backing the notes
// tool and the tool invocation audit.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BackendConfig holds per-operation timeouts for the agent backend.
type BackendConfig struct {
	CreateTimeout  time.Duration `yaml:"-" toml:"-"`
	TurnTimeout    time.Duration `yaml:"-" toml:"-"`
	HistoryTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	CreateTimeoutRaw  string `yaml:"create_timeout" toml:"create_timeout"`
	TurnTimeoutRaw    string `yaml:"turn_timeout" toml:"turn_timeout"`
	HistoryTimeoutRaw string `yaml:"history_timeout" toml:"history_timeout"`
}

// AgentConfig maps an agent name to the backend endpoint serving it
type AgentConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// ToolsConfig configures the tool execution gateway and the builtin tools
type ToolsConfig struct {
	DefaultTimeout time.Duration            `yaml:"-" toml:"-"`
	Timeouts       map[string]time.Duration `yaml:"-" toml:"-"` // keyed by tool category

	DefaultTimeoutRaw string            `yaml:"default_timeout" toml:"default_timeout"`
	TimeoutsRaw       map[string]string `yaml:"timeouts" toml:"timeouts"`

	MaxConcurrency int          `yaml:"max_concurrency" toml:"max_concurrency"`
	Search         SearchConfig `yaml:"search" toml:"search"`
	Fetch          FetchConfig  `yaml:"fetch" toml:"fetch"`
}

// SearchConfig selects the web search provider
type SearchConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
	BaseURL  string `yaml:"base_url" toml:"base_url"`
}

// FetchConfig bounds the http_fetch tool
type FetchConfig struct {
	MaxBytes int64 `yaml:"max_bytes" toml:"max_bytes"`
}

// InstructionsConfig configures where agent instructions come from and
// whether they are cached or reloaded on every use.
type InstructionsConfig struct {
	Mode    string `yaml:"mode" toml:"mode"`
	Path    string `yaml:"path" toml:"path"`
	URL     string `yaml:"url" toml:"url"`
	Refresh string `yaml:"refresh" toml:"refresh"` // cron schedule, cached mode only
}

// DedupeConfig bounds the turn idempotency cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
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

// TelemetryConfig holds OpenTelemetry tracing configuration
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	Exporter     string  `yaml:"exporter" toml:"exporter"` // stdout or otlp
	Endpoint     string  `yaml:"endpoint" toml:"endpoint"`
	ServiceName  string  `yaml:"service_name" toml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyDefaults fills zero values with the gateway defaults.
func (c *Config) applyDefaults() {
	if c.Backend.CreateTimeout == 0 {
		c.Backend.CreateTimeout = DefaultCreateTimeout
	}
	if c.Backend.TurnTimeout == 0 {
		c.Backend.TurnTimeout = DefaultTurnTimeout
	}
	if c.Backend.HistoryTimeout == 0 {
		c.Backend.HistoryTimeout = DefaultHistoryTimeout
	}
	if c.Tools.DefaultTimeout == 0 {
		c.Tools.DefaultTimeout = DefaultToolTimeout
	}
	if c.Tools.MaxConcurrency == 0 {
		c.Tools.MaxConcurrency = 8
	}
	if c.Tools.Search.Provider == "" {
		c.Tools.Search.Provider = "duckduckgo"
	}
	if c.Tools.Fetch.MaxBytes == 0 {
		c.Tools.Fetch.MaxBytes = 1 << 20
	}
	if c.Instructions.Mode == "" {
		c.Instructions.Mode = InstructionModeCached
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 5 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 100_000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "relay-gateway"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if a.Endpoint == "" {
			return fmt.Errorf("agents[%d].endpoint is required", i)
		}
		u, err := url.Parse(a.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("agents[%d].endpoint %q must be an absolute http(s) URL", i, a.Endpoint)
		}
	}

	switch c.Instructions.Mode {
	case InstructionModeCached, InstructionModePerCall:
	default:
		return fmt.Errorf("instructions.mode must be %q or %q, got %q", InstructionModeCached, InstructionModePerCall, c.Instructions.Mode)
	}
	if c.Instructions.Path != "" && c.Instructions.URL != "" {
		return fmt.Errorf("instructions.path and instructions.url are mutually exclusive")
	}
	if c.Instructions.Refresh != "" && c.Instructions.Mode != InstructionModeCached {
		return fmt.Errorf("instructions.refresh only applies to cached mode")
	}

	if c.Tools.MaxConcurrency < 0 {
		return fmt.Errorf("tools.max_concurrency must not be negative")
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "stdout", "otlp":
		default:
			return fmt.Errorf("telemetry.exporter must be stdout or otlp, got %q", c.Telemetry.Exporter)
		}
	}

	return nil
}

// ToolTimeout returns the timeout for a tool category, falling back to the default.
func (c ToolsConfig) ToolTimeout(category string) time.Duration {
	if d, ok := c.Timeouts[category]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.create_timeout", cfg.Backend.CreateTimeoutRaw, &cfg.Backend.CreateTimeout},
		{"backend.turn_timeout", cfg.Backend.TurnTimeoutRaw, &cfg.Backend.TurnTimeout},
		{"backend.history_timeout", cfg.Backend.HistoryTimeoutRaw, &cfg.Backend.HistoryTimeout},
		{"tools.default_timeout", cfg.Tools.DefaultTimeoutRaw, &cfg.Tools.DefaultTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
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

	if len(cfg.Tools.TimeoutsRaw) > 0 {
		cfg.Tools.Timeouts = make(map[string]time.Duration, len(cfg.Tools.TimeoutsRaw))
		for category, raw := range cfg.Tools.TimeoutsRaw {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parsing tools.timeouts.%s %q: %w", category, raw, err)
			}
			cfg.Tools.Timeouts[category] = d
		}
	}

	return nil
}
