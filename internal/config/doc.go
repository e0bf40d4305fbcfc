// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Missing optional values are filled with defaults before
// validation runs, so a loaded Config is always complete.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relay/gateway.yaml
//  3. ~/.config/relay/gateway.yaml
//
// A file whose extension is .toml is decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tools:
//	  search:
//	    api_key: "${BRAVE_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	backend:
//	  create_timeout: "10s"
//	  turn_timeout: "90s"
//	  history_timeout: "30s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # gRPC health
//	  http_addr: "0.0.0.0:8080"   # turn, history, tools, MCP
//
// Agents (the registry is built from this list once at startup):
//
//	agents:
//	  - name: "support"
//	    endpoint: "http://adk-backend:8000"
//
// Tools:
//
//	tools:
//	  default_timeout: "30s"
//	  timeouts:
//	    search: "15s"
//	    fetch: "20s"
//	  max_concurrency: 8
//	  search:
//	    provider: "brave"   # brave, duckduckgo
//	    api_key: "${BRAVE_API_KEY}"
//
// Instructions:
//
//	instructions:
//	  mode: "cached"        # cached, per_call
//	  path: "./instructions.md"
//	  refresh: "@every 10m" # cached mode only
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Server addresses (unless tailscale is enabled)
//   - At least one agent, each with an absolute http(s) endpoint
//   - Instruction mode values and source exclusivity
//   - Duration format validity
//   - Telemetry exporter values
//
// # Usage
//
//	cfg, err := config.Load("/etc/relay/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
