// ABOUTME: MCP-compatible HTTP server exposing the tool gateway to external agents.
// ABOUTME: Implements Streamable HTTP transport (2025-11-25) with sessions and JSON-RPC batches.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/toolgate"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultSessionIdle is how long an MCP session survives without requests.
const DefaultSessionIdle = 30 * time.Minute

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	clientName      string // passed to tools as the caller
	createdAt       time.Time
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*mcpSession
	idle     time.Duration
	now      func() time.Time
}

func newSessionStore(idle time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*mcpSession),
		idle:     idle,
		now:      time.Now,
	}
}

func (s *sessionStore) create(protocolVersion, clientName string) *mcpSession {
	now := s.now()
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		clientName:      clientName,
		createdAt:       now,
		lastSeen:        now,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// get returns a live session and refreshes its idle timer. Expired sessions
// are dropped on access.
func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(sess.lastSeen) > s.idle {
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastSeen = now
	return sess, true
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// sweep drops every session idle for longer than the limit and returns how
// many were removed.
func (s *sessionStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func sweepInterval(idle time.Duration) time.Duration {
	if idle < time.Minute {
		return idle
	}
	return time.Minute
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Config holds configuration for the MCP server.
type Config struct {
	Gateway     *toolgate.Gateway
	Logger      *slog.Logger
	SessionIdle time.Duration // defaults to DefaultSessionIdle
	Version     string        // reported in serverInfo
}

// Server implements MCP-compatible HTTP endpoints for external agents.
type Server struct {
	gateway  *toolgate.Gateway
	logger   *slog.Logger
	version  string
	sessions *sessionStore

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("tool gateway is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := cfg.SessionIdle
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		gateway:  cfg.Gateway,
		logger:   logger.With("component", "mcp"),
		version:  version,
		sessions: newSessionStore(idle),
		done:     make(chan struct{}),
	}
	go s.sweepSessions(sweepInterval(idle))
	return s, nil
}

// sweepSessions periodically removes sessions that clients abandoned without
// a DELETE.
func (s *Server) sweepSessions(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.sessions.sweep(); n > 0 {
				s.logger.Debug("expired idle MCP sessions", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the session sweeper. It is safe to call multiple times.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE per the
// Streamable HTTP transport.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes a single JSON-RPC message or a batch array.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSON(w, errorResponse(nil, JSONRPCParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSON(w, errorResponse(nil, JSONRPCInvalidRequest, "request body too large"))
		return
	}

	protoVersion := r.Header.Get("Mcp-Protocol-Version")
	if protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		s.handleBatch(w, r, trimmed)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		s.sendJSON(w, errorResponse(nil, JSONRPCParseError, "invalid JSON"))
		return
	}

	var sess *mcpSession
	if req.Method != "initialize" {
		var status int
		sess, status = s.lookupSession(r)
		if sess == nil {
			http.Error(w, http.StatusText(status), status)
			return
		}
	}

	resp := s.dispatch(r.Context(), w, req, sess)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.sendJSON(w, resp)
}

// handleBatch answers a JSON-RPC batch. Every request in the array must
// belong to an existing session; initialize is not allowed inside a batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.sendJSON(w, errorResponse(nil, JSONRPCParseError, "invalid JSON"))
		return
	}
	if len(raw) == 0 {
		s.sendJSON(w, errorResponse(nil, JSONRPCInvalidRequest, "empty batch"))
		return
	}

	sess, status := s.lookupSession(r)
	if sess == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	// Slots keep batch order; tools/call items are collected and executed
	// together so one slow tool does not delay the others.
	slots := make([]*JSONRPCResponse, len(raw))
	var (
		calls   []toolgate.Call
		callReq []int // index into raw for each entry of calls
	)
	reqs := make([]JSONRPCRequest, len(raw))
	for i, item := range raw {
		req := &reqs[i]
		if err := json.Unmarshal(item, req); err != nil {
			slots[i] = errorResponse(nil, JSONRPCInvalidRequest, "invalid request")
			continue
		}
		if req.Method == "initialize" {
			slots[i] = errorResponse(req.ID, JSONRPCInvalidRequest, "initialize cannot be batched")
			continue
		}
		if req.Method == "tools/call" && req.JSONRPC == "2.0" && !isNotification(*req) {
			call, errResp := s.prepareToolCall(*req, sess)
			if errResp != nil {
				slots[i] = errResp
				continue
			}
			calls = append(calls, call)
			callReq = append(callReq, i)
			continue
		}
		slots[i] = s.dispatch(r.Context(), w, *req, sess)
	}

	if len(calls) > 0 {
		outcomes := s.gateway.ExecuteBatch(r.Context(), calls)
		for j, out := range outcomes {
			i := callReq[j]
			slots[i] = s.toolCallResponse(reqs[i], out)
		}
	}

	responses := make([]*JSONRPCResponse, 0, len(slots))
	for _, resp := range slots {
		if resp != nil {
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.sendJSON(w, responses)
}

// lookupSession resolves Mcp-Session-Id, returning the HTTP status to send
// when it is missing or unknown.
func (s *Server) lookupSession(r *http.Request) (*mcpSession, int) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		return nil, http.StatusBadRequest
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		// Session expired or invalid; the client must re-initialize.
		return nil, http.StatusNotFound
	}
	return sess, http.StatusOK
}

// dispatch handles one request. It returns nil for notifications.
func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest, sess *mcpSession) *JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}

	if isNotification(req) {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	s.logger.Debug("MCP request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(w, req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req, sess)
	default:
		return errorResponse(req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) *JSONRPCResponse {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	version := latestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	clientName := params.ClientInfo.Name
	if clientName == "" {
		clientName = "mcp-client"
	}
	sess := s.sessions.create(version, clientName)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
		"client", clientName,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set("Mcp-Session-Id", sess.id)

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "relay-gateway",
			"version": s.version,
		},
	})
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	defs := s.gateway.Registry().List()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(defs))}
	for i, d := range defs {
		result.Tools[i] = MCPToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	s.logger.Debug("tools/list", "count", len(defs))
	return resultResponse(req.ID, result)
}

// handleToolsCall handles tools/call requests. Tool failures are reported in
// the result with isError set, never as JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, req JSONRPCRequest, sess *mcpSession) *JSONRPCResponse {
	call, errResp := s.prepareToolCall(req, sess)
	if errResp != nil {
		return errResp
	}
	return s.toolCallResponse(req, s.gateway.Execute(ctx, call))
}

// prepareToolCall validates tools/call params and builds the gateway call.
// Invalid params produce a JSON-RPC error response instead.
func (s *Server) prepareToolCall(req JSONRPCRequest, sess *mcpSession) (toolgate.Call, *JSONRPCResponse) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return toolgate.Call{}, errorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return toolgate.Call{}, errorResponse(req.ID, JSONRPCInvalidParams, "tool name is required")
	}
	if _, ok := s.gateway.Registry().Get(params.Name); !ok {
		return toolgate.Call{}, errorResponse(req.ID, JSONRPCInvalidParams, "tool not found")
	}

	return toolgate.Call{
		ID:        uuid.New().String(),
		Name:      params.Name,
		Arguments: params.Arguments,
		Caller:    sess.clientName,
	}, nil
}

func (s *Server) toolCallResponse(req JSONRPCRequest, out toolgate.Outcome) *JSONRPCResponse {
	text := out.Content
	if out.IsError && out.Diagnostic != "" {
		text = out.Content + ": " + out.Diagnostic
	}

	s.logger.Debug("tools/call complete",
		"tool_name", out.Name,
		"call_id", out.CallID,
		"status", out.Status,
	)

	return resultResponse(req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: text}},
		IsError: out.IsError,
	})
}

// isNotification reports whether req carries no id and expects no response.
func isNotification(req JSONRPCRequest) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

func resultResponse(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
