// ABOUTME: Entry point for relay-gateway, the session-aware agent protocol gateway
// ABOUTME: Provides serve, init, and client subcommands against a running gateway

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                                 _
  _ __ ___| | __ _ _   _       __ _  __ _| |_ _____      ____ _ _   _
 | '__/ _ \ |/ _' | | | |_____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | |  __/ | (_| | |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|  \___|_|\__,_|\__, |      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                   |___/       |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/gateway.yaml > ~/.config/relay/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "gateway.yaml")
}

// getDataPath returns the path to the relay data directory.
// Priority: XDG_DATA_HOME/relay > ~/.local/share/relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "relay")
}

func usage() {
	fmt.Println("Usage: relay-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                  Start the gateway server")
	fmt.Println("  init                                   Create a new config file interactively")
	fmt.Println("  health                                 Check gateway health")
	fmt.Println("  agents                                 List registered agents")
	fmt.Println("  tools                                  List registered tools")
	fmt.Println("  turn -agent A -user U [-session S] MSG Send one message to an agent")
	fmt.Println("  version                                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "tools":
		err = runTools(ctx)
	case "turn":
		err = runTurn(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    ")
	for i, a := range cfg.Agents {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Print(a.Name)
	}
	fmt.Println()

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	fmt.Println()

	logger.Info("starting relay-gateway",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"agents", len(cfg.Agents),
	)

	gw, err := gateway.New(ctx, cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// gatewayURL returns the base URL of the configured gateway's HTTP API.
func gatewayURL(cfg *config.Config) string {
	if envURL := os.Getenv("RELAY_GATEWAY_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	return "http://" + cfg.Server.HTTPAddr
}

func loadClientConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// doRequest sends a request to the gateway and decodes a JSON reply into out
// when out is non-nil. Non-2xx replies are also returned as errors carrying
// the body, after out has been filled in.
func doRequest(ctx context.Context, method, url string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.StatusCode, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	if _, err := doRequest(ctx, http.MethodGet, gatewayURL(cfg)+"/health", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	var resp gateway.AgentsResponse
	if _, err := doRequest(ctx, http.MethodGet, gatewayURL(cfg)+"/api/agents", nil, &resp); err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENDPOINT")
	for _, a := range resp.Agents {
		fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.Endpoint)
	}
	return tw.Flush()
}

func runTools(ctx context.Context) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	var resp gateway.ToolsResponse
	if _, err := doRequest(ctx, http.MethodGet, gatewayURL(cfg)+"/api/tools", nil, &resp); err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
	for _, t := range resp.Tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Category, t.Description)
	}
	return tw.Flush()
}

func runTurn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("turn", flag.ContinueOnError)
	agentName := fs.String("agent", "", "agent name")
	userID := fs.String("user", os.Getenv("USER"), "user id")
	sessionID := fs.String("session", "", "session id to continue (omit to start one)")
	messageID := fs.String("message-id", "", "idempotency key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	message := strings.Join(fs.Args(), " ")
	if *agentName == "" || message == "" {
		return fmt.Errorf("usage: relay-gateway turn -agent NAME [-user ID] [-session ID] MESSAGE")
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	var resp gateway.TurnResponse
	_, err = doRequest(ctx, http.MethodPost, gatewayURL(cfg)+"/api/turn", gateway.TurnRequest{
		AgentName: *agentName,
		UserID:    *userID,
		SessionID: *sessionID,
		MessageID: *messageID,
		Message:   message,
	}, &resp)
	if resp.Status == "" {
		// No turn body; validation and conflict errors carry only an error field.
		return err
	}

	if resp.Status == gateway.StatusSuccess {
		fmt.Println(resp.Response)
	} else {
		color.New(color.FgRed).Printf("error: %s\n", resp.Response)
	}
	if resp.SessionID != "" {
		color.New(color.FgHiBlack).Printf("session: %s\n", resp.SessionID)
	}
	return err
}
