// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

agents:
  - name: "support"
    endpoint: "http://localhost:8000"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

backend:
  create_timeout: "5s"
  turn_timeout: "60s"
  history_timeout: "20s"

agents:
  - name: "support"
    endpoint: "http://localhost:8000"
  - name: "billing"
    endpoint: "https://billing.internal:9000"

tools:
  default_timeout: "25s"
  timeouts:
    search: "15s"
  max_concurrency: 4
  search:
    provider: "brave"
    api_key: "key"

instructions:
  mode: "per_call"
  path: "./instructions.md"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Backend.CreateTimeout != 5*time.Second {
		t.Errorf("Backend.CreateTimeout = %v, want %v", cfg.Backend.CreateTimeout, 5*time.Second)
	}
	if cfg.Backend.TurnTimeout != 60*time.Second {
		t.Errorf("Backend.TurnTimeout = %v, want %v", cfg.Backend.TurnTimeout, 60*time.Second)
	}
	if cfg.Backend.HistoryTimeout != 20*time.Second {
		t.Errorf("Backend.HistoryTimeout = %v, want %v", cfg.Backend.HistoryTimeout, 20*time.Second)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("len(Agents) = %d, want 2", len(cfg.Agents))
	}
	if cfg.Agents[1].Name != "billing" {
		t.Errorf("Agents[1].Name = %q, want %q", cfg.Agents[1].Name, "billing")
	}
	if cfg.Tools.ToolTimeout("search") != 15*time.Second {
		t.Errorf("ToolTimeout(search) = %v, want %v", cfg.Tools.ToolTimeout("search"), 15*time.Second)
	}
	if cfg.Tools.ToolTimeout("notes") != 25*time.Second {
		t.Errorf("ToolTimeout(notes) = %v, want %v", cfg.Tools.ToolTimeout("notes"), 25*time.Second)
	}
	if cfg.Tools.MaxConcurrency != 4 {
		t.Errorf("Tools.MaxConcurrency = %d, want 4", cfg.Tools.MaxConcurrency)
	}
	if cfg.Tools.Search.Provider != "brave" {
		t.Errorf("Tools.Search.Provider = %q, want %q", cfg.Tools.Search.Provider, "brave")
	}
	if cfg.Instructions.Mode != InstructionModePerCall {
		t.Errorf("Instructions.Mode = %q, want %q", cfg.Instructions.Mode, InstructionModePerCall)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Metrics.Path != "/prom" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/prom")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.CreateTimeout != DefaultCreateTimeout {
		t.Errorf("Backend.CreateTimeout = %v, want %v", cfg.Backend.CreateTimeout, DefaultCreateTimeout)
	}
	if cfg.Backend.TurnTimeout != DefaultTurnTimeout {
		t.Errorf("Backend.TurnTimeout = %v, want %v", cfg.Backend.TurnTimeout, DefaultTurnTimeout)
	}
	if cfg.Backend.HistoryTimeout != DefaultHistoryTimeout {
		t.Errorf("Backend.HistoryTimeout = %v, want %v", cfg.Backend.HistoryTimeout, DefaultHistoryTimeout)
	}
	if cfg.Tools.DefaultTimeout != DefaultToolTimeout {
		t.Errorf("Tools.DefaultTimeout = %v, want %v", cfg.Tools.DefaultTimeout, DefaultToolTimeout)
	}
	if cfg.Tools.Search.Provider != "duckduckgo" {
		t.Errorf("Tools.Search.Provider = %q, want %q", cfg.Tools.Search.Provider, "duckduckgo")
	}
	if cfg.Instructions.Mode != InstructionModeCached {
		t.Errorf("Instructions.Mode = %q, want %q", cfg.Instructions.Mode, InstructionModeCached)
	}
	if cfg.Dedupe.TTL != 5*time.Minute {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, 5*time.Minute)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BACKEND_URL", "http://backend.example:8000")
	t.Setenv("TEST_SEARCH_KEY", "secret-key")

	cfg, err := Load(writeConfig(t, "config.yaml", `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
agents:
  - name: "support"
    endpoint: "${TEST_BACKEND_URL}"
tools:
  search:
    api_key: "${TEST_SEARCH_KEY}"
    base_url: "${TEST_UNSET_VAR_FOR_RELAY}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agents[0].Endpoint != "http://backend.example:8000" {
		t.Errorf("Agents[0].Endpoint = %q, want %q", cfg.Agents[0].Endpoint, "http://backend.example:8000")
	}
	if cfg.Tools.Search.APIKey != "secret-key" {
		t.Errorf("Tools.Search.APIKey = %q, want %q", cfg.Tools.Search.APIKey, "secret-key")
	}
	if cfg.Tools.Search.BaseURL != "" {
		t.Errorf("Tools.Search.BaseURL = %q, want empty", cfg.Tools.Search.BaseURL)
	}
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", `
[server]
grpc_addr = "127.0.0.1:50051"
http_addr = "127.0.0.1:8080"

[database]
path = ":memory:"

[backend]
turn_timeout = "75s"

[[agents]]
name = "support"
endpoint = "http://localhost:8000"

[tools]
default_timeout = "12s"

[tools.timeouts]
fetch = "3s"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Backend.TurnTimeout != 75*time.Second {
		t.Errorf("Backend.TurnTimeout = %v, want %v", cfg.Backend.TurnTimeout, 75*time.Second)
	}
	if cfg.Tools.ToolTimeout("fetch") != 3*time.Second {
		t.Errorf("ToolTimeout(fetch) = %v, want %v", cfg.Tools.ToolTimeout("fetch"), 3*time.Second)
	}
	if cfg.Tools.ToolTimeout("search") != 12*time.Second {
		t.Errorf("ToolTimeout(search) = %v, want %v", cfg.Tools.ToolTimeout("search"), 12*time.Second)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for nonexistent file, got nil")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want it to mention reading config file", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
backend:
  turn_timeout: "soon"
`))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "backend.turn_timeout") {
		t.Errorf("error = %v, want it to name backend.turn_timeout", err)
	}
}

func TestLoad_InvalidCategoryTimeout(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
tools:
  timeouts:
    search: "fast"
`))
	if err == nil {
		t.Fatal("Load() expected error for invalid category timeout, got nil")
	}
	if !strings.Contains(err.Error(), "tools.timeouts.search") {
		t.Errorf("error = %v, want it to name tools.timeouts.search", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{GRPCAddr: ":50051", HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: ":memory:"},
			Agents:   []AgentConfig{{Name: "a", Endpoint: "http://localhost:8000"}},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing grpc addr", func(c *Config) { c.Server.GRPCAddr = "" }, "server.grpc_addr"},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"tailscale replaces addrs", func(c *Config) {
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "relay"}
			c.Server = ServerConfig{}
		}, ""},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no agents", func(c *Config) { c.Agents = nil }, "at least one agent"},
		{"agent without name", func(c *Config) { c.Agents[0].Name = "" }, "agents[0].name"},
		{"agent relative endpoint", func(c *Config) { c.Agents[0].Endpoint = "/run" }, "absolute http(s) URL"},
		{"agent bad scheme", func(c *Config) { c.Agents[0].Endpoint = "ftp://host" }, "absolute http(s) URL"},
		{"bad instruction mode", func(c *Config) { c.Instructions.Mode = "sometimes" }, "instructions.mode"},
		{"path and url", func(c *Config) {
			c.Instructions.Path = "a.md"
			c.Instructions.URL = "http://x/a.md"
		}, "mutually exclusive"},
		{"refresh in per_call mode", func(c *Config) {
			c.Instructions.Mode = InstructionModePerCall
			c.Instructions.Refresh = "@every 1m"
		}, "cached mode"},
		{"negative concurrency", func(c *Config) { c.Tools.MaxConcurrency = -1 }, "max_concurrency"},
		{"bad exporter", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "zipkin"
		}, "telemetry.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_A", "alpha")

	got := expandEnvVars("x=${RELAY_TEST_A} y=${RELAY_TEST_MISSING_B} z=$RELAY_TEST_A")
	want := "x=alpha y= z=$RELAY_TEST_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	base := filepath.Join(dir, ".env")
	if err := os.WriteFile(local, []byte("RELAY_TEST_DOTENV_KEY=from-local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base, []byte("RELAY_TEST_DOTENV_KEY=from-base\nRELAY_TEST_DOTENV_OTHER=base-only\nRELAY_TEST_DOTENV_SET=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() {
		_ = os.Unsetenv("RELAY_TEST_DOTENV_KEY")
		_ = os.Unsetenv("RELAY_TEST_DOTENV_OTHER")
	})

	if err := LoadEnvFiles(local, base, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}

	if got := os.Getenv("RELAY_TEST_DOTENV_KEY"); got != "from-local" {
		t.Errorf("KEY = %q, want from-local", got)
	}
	if got := os.Getenv("RELAY_TEST_DOTENV_OTHER"); got != "base-only" {
		t.Errorf("OTHER = %q, want base-only", got)
	}
	if got := os.Getenv("RELAY_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("SET = %q, want from-env", got)
	}
}
