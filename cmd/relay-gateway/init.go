// ABOUTME: Interactive config generation for relay-gateway init
// ABOUTME: Prompts for listeners, agents, and storage, then writes a YAML config file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/relay-gateway/internal/agent"
)

type initAnswers struct {
	grpcAddr  string
	httpAddr  string
	dbPath    string
	agents    []agentAnswer
	tailscale *tailscaleAnswer
	logLevel  string
	logFormat string
	metrics   bool
}

type agentAnswer struct {
	name     string
	endpoint string
}

type tailscaleAnswer struct {
	hostname  string
	authKey   string
	ephemeral bool
	funnel    bool
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("relay-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.grpcAddr = prompt(reader, "gRPC address", "localhost:50051")
	a.httpAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.dbPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "gateway.db"))

	fmt.Println("\n--- Agents ---")
	fmt.Println("Enter one agent per prompt; leave the name empty to finish. At least one is required.")
	for {
		defaultName := ""
		if len(a.agents) == 0 {
			defaultName = "assistant"
		}
		name := prompt(reader, "Agent name", defaultName)
		if name == "" {
			break
		}
		if !agent.ValidName(name) {
			fmt.Println("Names must start with a letter or underscore and contain only letters, digits, '_', '.', '-'.")
			continue
		}
		endpoint := prompt(reader, "  Backend endpoint", "http://localhost:8000")
		a.agents = append(a.agents, agentAnswer{name: name, endpoint: endpoint})
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	if yes(prompt(reader, "Enable Tailscale?", "no")) {
		a.tailscale = &tailscaleAnswer{
			hostname:  prompt(reader, "Tailscale hostname", "relay-gateway"),
			authKey:   prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", ""),
			ephemeral: yes(prompt(reader, "Ephemeral node?", "no")),
			funnel:    yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no")),
		}
	}

	fmt.Println("\n--- Logging and Metrics ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")
	a.metrics = yes(prompt(reader, "Expose Prometheus metrics?", "no"))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  relay-gateway serve\n")

	return nil
}

// renderConfig produces the YAML config for the collected answers.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# relay-gateway configuration\n")
	cfg.WriteString("# Generated by relay-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.grpcAddr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.httpAddr)
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.dbPath)
	cfg.WriteString("\n")

	cfg.WriteString("agents:\n")
	for _, ag := range a.agents {
		fmt.Fprintf(&cfg, "  - name: %q\n", ag.name)
		fmt.Fprintf(&cfg, "    endpoint: %q\n", ag.endpoint)
	}
	cfg.WriteString("\n")

	cfg.WriteString("backend:\n")
	cfg.WriteString("  create_timeout: \"10s\"\n")
	cfg.WriteString("  turn_timeout: \"90s\"\n")
	cfg.WriteString("  history_timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.tailscale != nil)
	if ts := a.tailscale; ts != nil {
		fmt.Fprintf(&cfg, "  hostname: %q\n", ts.hostname)
		if ts.authKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", ts.authKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", ts.ephemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", ts.funnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.logFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.metrics)
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
