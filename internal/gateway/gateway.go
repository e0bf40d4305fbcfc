// ABOUTME: Gateway orchestrator that coordinates gRPC and HTTP servers
// ABOUTME: Wires the agent registry, session manager, tool gateway, and health endpoints lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/backend"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/instruction"
	"github.com/2389/relay-gateway/internal/mcp"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/telemetry"
	"github.com/2389/relay-gateway/internal/toolgate"
	"github.com/2389/relay-gateway/internal/tools"
)

// Gateway orchestrates the relay-gateway server components.
// It owns the HTTP API, the gRPC health listener, and everything they call.
type Gateway struct {
	config      *config.Config
	agents      *agent.Registry
	backend     backend.Backend
	sessions    *session.Manager
	tools       *toolgate.Gateway
	store       store.Store
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	mcpServer   *mcp.Server
	metrics     *telemetry.Metrics
	tracing     *telemetry.Tracing
	tracer      trace.Tracer
	markdown    goldmark.Markdown
	logger      *slog.Logger
	version     string

	// dedupe remembers turns by message_id so client retries replay.
	dedupe *dedupe.Cache[TurnResponse]

	// refresher reloads cached instructions on a schedule; nil when unset.
	refresher *instruction.Refresher

	// baseURL is the externally reachable HTTP address, used for logging
	// the MCP endpoint.
	baseURL string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// determineBaseURL resolves the public base URL from environment or config.
func determineBaseURL(cfg *config.Config) string {
	if envURL := os.Getenv("RELAY_GATEWAY_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

// initInstructions builds the instruction source and, for cached sources
// with a refresh schedule, starts the refresher. A nil source means no
// instructions are configured.
func initInstructions(cfg *config.Config, logger *slog.Logger) (instruction.Source, *instruction.Refresher, error) {
	src, err := instruction.NewSource(cfg.Instructions, nil, logger)
	if errors.Is(err, instruction.ErrNotConfigured) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating instruction source: %w", err)
	}

	cached, ok := src.(*instruction.CachedSource)
	if !ok || cfg.Instructions.Refresh == "" {
		return src, nil, nil
	}
	refresher, err := instruction.StartRefresher(cfg.Instructions.Refresh, cached, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("starting instruction refresher: %w", err)
	}
	return src, refresher, nil
}

// initTools registers the builtin tools and creates the tool gateway.
func initTools(cfg *config.Config, s store.Store, src instruction.Source, metrics *telemetry.Metrics, tracer trace.Tracer, logger *slog.Logger) (*toolgate.Gateway, error) {
	provider, err := tools.ResolveSearchProvider(cfg.Tools.Search, nil)
	if err != nil {
		return nil, fmt.Errorf("resolving search provider: %w", err)
	}

	builtins, err := tools.Builtins(tools.Deps{
		Notes:         s,
		Search:        provider,
		FetchMaxBytes: cfg.Tools.Fetch.MaxBytes,
		Instructions:  src,
	})
	if err != nil {
		return nil, fmt.Errorf("building builtin tools: %w", err)
	}

	registry := toolgate.NewRegistry(logger)
	if err := registry.Register(builtins...); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	return toolgate.NewGateway(toolgate.Config{
		Registry:       registry,
		DefaultTimeout: cfg.Tools.DefaultTimeout,
		Timeouts:       cfg.Tools.Timeouts,
		MaxConcurrency: cfg.Tools.MaxConcurrency,
		Audit:          s,
		Recorder:       metrics,
		Logger:         logger,
		Tracer:         tracer,
	}), nil
}

// New creates a new Gateway instance with the given configuration. If any
// step fails, the components already created are shut down before New
// returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (_ *Gateway, err error) {
	agents, err := agent.NewRegistry(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}

	var cleanups []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	metrics, err := telemetry.NewMetrics(cfg.Metrics.Enabled)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func() {
		shutdownTelemetry(logger, "metrics", metrics.Shutdown)
	})

	tracing, err := telemetry.InitTracer(ctx, cfg.Telemetry, version, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	cleanups = append(cleanups, func() {
		shutdownTelemetry(logger, "tracing", tracing.Shutdown)
	})
	tracer := tracing.Tracer()

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func() { _ = s.Close() })

	backendClient := backend.NewClient(backend.ClientConfig{
		Timeouts: backend.Timeouts{
			Create:  cfg.Backend.CreateTimeout,
			Turn:    cfg.Backend.TurnTimeout,
			History: cfg.Backend.HistoryTimeout,
		},
		Logger: logger.With("component", "backend"),
		Tracer: tracer,
	})

	sessions, err := session.NewManager(session.Config{
		Creator:  backendClient,
		Recorder: metrics,
		Logger:   logger.With("component", "session"),
		Tracer:   tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	src, refresher, err := initInstructions(cfg, logger.With("component", "instructions"))
	if err != nil {
		return nil, err
	}
	if refresher != nil {
		cleanups = append(cleanups, refresher.Stop)
	}

	toolGateway, err := initTools(cfg, s, src, metrics, tracer, logger)
	if err != nil {
		return nil, err
	}

	grpcServer, healthServer := newGRPCServer(agents, logger.With("component", "grpc"))

	gw := &Gateway{
		config:     cfg,
		agents:     agents,
		backend:    backendClient,
		sessions:   sessions,
		tools:      toolGateway,
		store:      s,
		grpcServer: grpcServer,
		health:     healthServer,
		metrics:    metrics,
		tracing:    tracing,
		tracer:     tracer,
		markdown:   newMarkdown(),
		logger:     logger.With("component", "gateway"),
		version:    version,
		dedupe:     dedupe.New[TurnResponse](cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries),
		refresher:  refresher,
		baseURL:    determineBaseURL(cfg),
	}

	// Register MCP server routes for external tool access
	mcpServer, err := mcp.NewServer(mcp.Config{
		Gateway: toolGateway,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		gw.dedupe.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/turn", g.handleTurn)
	mux.HandleFunc("/api/history", g.handleHistory)
	mux.HandleFunc("/api/agents", g.handleListAgents)
	mux.HandleFunc("/api/tools", g.handleListTools)
	mux.HandleFunc("/api/tools/execute", g.handleExecuteTools)
	mux.HandleFunc("/api/ws", g.handleWS)

	g.mcpServer.RegisterRoutes(mux)

	if h := g.metrics.Handler(); h != nil {
		mux.Handle(g.config.Metrics.Path, h)
	}
	return mux
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "mcp_endpoint", g.baseURL+"/mcp")
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relay-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateBaseURLFromStatus(status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updateBaseURLFromStatus switches the base URL to the node's tailnet DNS name.
func (g *Gateway) updateBaseURLFromStatus(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" || os.Getenv("RELAY_GATEWAY_URL") != "" {
		return
	}
	scheme := "http"
	if g.config.Tailscale.HTTPS || g.config.Tailscale.Funnel {
		scheme = "https"
	}
	g.baseURL = scheme + "://" + strings.TrimSuffix(status.Self.DNSName, ".")
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdownTelemetry flushes a telemetry provider after New fails.
func shutdownTelemetry(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("failed to shut down telemetry", "provider", name, "error", err)
	}
}

// closeComponents releases everything New created apart from the servers.
func (g *Gateway) closeComponents() error {
	if g.refresher != nil {
		g.refresher.Stop()
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.mcpServer != nil {
		g.mcpServer.Close()
	}
	return g.store.Close()
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Health checks report NOT_SERVING before the listeners close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.closeComponents())
	errs = appendCloseError(errs, "metrics shutdown", g.metrics.Shutdown(ctx))
	errs = appendCloseError(errs, "tracing shutdown", g.tracing.Shutdown(ctx))

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one agent is configured.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.agents.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", n)
}
