// ABOUTME: Tests for CLI helpers: generated config round-trips and log formatting
// ABOUTME: Exercises renderConfig through config.Load and the color handler's attr output

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/2389/relay-gateway/internal/config"
)

func TestRenderConfig_LoadsBack(t *testing.T) {
	out := renderConfig(initAnswers{
		grpcAddr: "localhost:50051",
		httpAddr: "localhost:8080",
		dbPath:   filepath.Join(t.TempDir(), "gateway.db"),
		agents: []agentAnswer{
			{name: "planner", endpoint: "http://localhost:8000"},
			{name: "writer", endpoint: "https://writer.internal"},
		},
		tailscale: &tailscaleAnswer{hostname: "relay", ephemeral: true},
		logLevel:  "debug",
		logFormat: "json",
		metrics:   true,
	})

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(out), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v\n%s", err, out)
	}
	if len(cfg.Agents) != 2 || cfg.Agents[1].Name != "writer" {
		t.Errorf("agents = %+v", cfg.Agents)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "relay" || !cfg.Tailscale.Ephemeral {
		t.Errorf("tailscale = %+v", cfg.Tailscale)
	}
	if !cfg.Metrics.Enabled || cfg.Logging.Format != "json" {
		t.Errorf("metrics/logging = %+v %+v", cfg.Metrics, cfg.Logging)
	}
	if cfg.Backend.TurnTimeout.String() != "1m30s" {
		t.Errorf("turn timeout = %v", cfg.Backend.TurnTimeout)
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("turn done", "agent", "planner", "msg", "two words")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("debug line logged at info level: %q", got)
	}
	for _, want := range []string{"INF turn done", "component=gateway", "req.agent=planner", `req.msg="two words"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
