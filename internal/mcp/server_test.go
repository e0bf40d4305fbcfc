// ABOUTME: Tests for the MCP HTTP server including sessions, tool listing and execution.
// ABOUTME: Covers JSON-RPC batches, notifications, and error responses.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/relay-gateway/internal/toolgate"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer creates an MCP server with an echo tool, a failing tool,
// and a whoami tool reporting the caller.
func setupTestServer(t *testing.T) *http.ServeMux {
	t.Helper()

	echo, err := toolgate.NewTool("echo", "Echo text back", "test",
		func(_ context.Context, _ string, in echoArgs) (string, error) {
			return in.Text, nil
		})
	if err != nil {
		t.Fatalf("failed to build echo tool: %v", err)
	}
	fail := &toolgate.Tool{
		Name:     "fail",
		Category: "test",
		Handler: func(context.Context, string, map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	}
	whoami := &toolgate.Tool{
		Name:     "whoami",
		Category: "test",
		Handler: func(_ context.Context, caller string, _ map[string]any) (string, error) {
			return caller, nil
		},
	}

	return serveTools(t, toolgate.Config{}, echo, fail, whoami)
}

// serveTools mounts an MCP server over a tool gateway holding tools.
func serveTools(t *testing.T, gwCfg toolgate.Config, tools ...*toolgate.Tool) *http.ServeMux {
	t.Helper()

	registry := toolgate.NewRegistry(testLogger())
	if err := registry.Register(tools...); err != nil {
		t.Fatalf("failed to register tools: %v", err)
	}
	gwCfg.Registry = registry
	gwCfg.Logger = testLogger()

	server, err := NewServer(Config{
		Gateway: toolgate.NewGateway(gwCfg),
		Logger:  testLogger(),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(server.Close)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux
}

func post(mux *http.ServeMux, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// initialize performs the handshake and returns the session id.
func initialize(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"planner"}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	sessionID := rr.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return Mcp-Session-Id")
	}
	return sessionID
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func decodeCallResult(t *testing.T, resp JSONRPCResponse) MCPCallToolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected JSON-RPC error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to decode call result: %v", err)
	}
	return result
}

func TestNewServer_RequiresGateway(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("expected error without gateway")
	}
}

func TestInitialize(t *testing.T) {
	mux := setupTestServer(t)

	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	if result["protocolVersion"] != "2025-06-18" {
		t.Errorf("expected negotiated version 2025-06-18, got %v", result["protocolVersion"])
	}

	rr = post(mux, "", `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)
	result = decodeResponse(t, rr).Result.(map[string]any)
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("expected fallback to %s, got %v", latestProtocolVersion, result["protocolVersion"])
	}
}

func TestSessionRequired(t *testing.T) {
	mux := setupTestServer(t)

	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing session: expected 400, got %d", rr.Code)
	}

	rr = post(mux, "no-such-session", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rr.Code)
	}
}

func TestToolsList(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp := decodeResponse(t, rr)
	data, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to decode tools/list: %v", err)
	}
	if len(result.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].Name != "echo" {
		t.Errorf("expected tools sorted by name, got %s first", result.Tools[0].Name)
	}
	if !strings.Contains(string(result.Tools[0].InputSchema), `"text"`) {
		t.Errorf("expected echo schema to mention text, got %s", result.Tools[0].InputSchema)
	}
}

func TestToolsCall(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	t.Run("success", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
		result := decodeCallResult(t, decodeResponse(t, rr))
		if result.IsError {
			t.Fatalf("unexpected tool error: %+v", result)
		}
		if len(result.Content) != 1 || result.Content[0].Text != "hi" || result.Content[0].Type != "text" {
			t.Errorf("unexpected content: %+v", result.Content)
		}
	})

	t.Run("tool failure is a result, not a JSON-RPC error", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fail"}}`)
		result := decodeCallResult(t, decodeResponse(t, rr))
		if !result.IsError {
			t.Fatal("expected isError")
		}
		if !strings.Contains(result.Content[0].Text, "disk on fire") {
			t.Errorf("expected diagnostic in text, got %q", result.Content[0].Text)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
		result := decodeCallResult(t, decodeResponse(t, rr))
		if !result.IsError {
			t.Error("expected isError for missing required argument")
		}
	})

	t.Run("caller is the client name", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"whoami"}}`)
		result := decodeCallResult(t, decodeResponse(t, rr))
		if result.Content[0].Text != "planner" {
			t.Errorf("expected caller planner, got %q", result.Content[0].Text)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"nope"}}`)
		resp := decodeResponse(t, rr)
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
			t.Errorf("expected invalid params error, got %+v", resp.Error)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{}}`)
		resp := decodeResponse(t, rr)
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
			t.Errorf("expected invalid params error, got %+v", resp.Error)
		}
	})
}

func TestBatch(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"a"}}},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fail"}},
		{"jsonrpc":"2.0","id":3,"method":"bogus"},
		{"jsonrpc":"2.0","id":4,"method":"initialize"}
	]`
	rr := post(mux, sessionID, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var responses []JSONRPCResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("expected array response: %v", err)
	}
	if len(responses) != 4 {
		t.Fatalf("expected 4 responses (notification omitted), got %d", len(responses))
	}

	wantIDs := []string{"1", "2", "3", "4"}
	for i, resp := range responses {
		if string(resp.ID) != wantIDs[i] {
			t.Errorf("response %d: expected id %s, got %s", i, wantIDs[i], resp.ID)
		}
	}
	if decodeCallResult(t, responses[0]).Content[0].Text != "a" {
		t.Error("expected echo result first")
	}
	if !decodeCallResult(t, responses[1]).IsError {
		t.Error("expected failing tool to report isError")
	}
	if responses[2].Error == nil || responses[2].Error.Code != JSONRPCMethodNotFound {
		t.Errorf("expected method not found, got %+v", responses[2].Error)
	}
	if responses[3].Error == nil || responses[3].Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected initialize to be rejected in batch, got %+v", responses[3].Error)
	}
}

func TestBatch_ToolCallsRunConcurrently(t *testing.T) {
	const calls = 4

	// Each call waits until all of them have started, so a batch executed
	// one call at a time would time out instead of succeeding.
	var arrived sync.WaitGroup
	arrived.Add(calls)
	allStarted := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allStarted)
	}()
	barrier := &toolgate.Tool{
		Name:     "barrier",
		Category: "test",
		Handler: func(ctx context.Context, _ string, _ map[string]any) (string, error) {
			arrived.Done()
			select {
			case <-allStarted:
				return "through", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	mux := serveTools(t, toolgate.Config{DefaultTimeout: 2 * time.Second, MaxConcurrency: calls}, barrier)
	sessionID := initialize(t, mux)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"barrier"}},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"barrier"}},
		{"jsonrpc":"2.0","id":3,"method":"ping"},
		{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"barrier"}},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"barrier"}},
		{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"missing"}}
	]`
	start := time.Now()
	rr := post(mux, sessionID, body)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("batch took %s; tool calls did not run concurrently", elapsed)
	}

	var responses []JSONRPCResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &responses); err != nil {
		t.Fatalf("expected array response: %v", err)
	}
	wantIDs := []string{"1", "2", "3", "4", "5", "6"}
	if len(responses) != len(wantIDs) {
		t.Fatalf("expected %d responses, got %d", len(wantIDs), len(responses))
	}
	for i, resp := range responses {
		if string(resp.ID) != wantIDs[i] {
			t.Errorf("response %d: expected id %s, got %s", i, wantIDs[i], resp.ID)
		}
	}
	for _, i := range []int{0, 1, 3, 4} {
		result := decodeCallResult(t, responses[i])
		if result.IsError || result.Content[0].Text != "through" {
			t.Errorf("response %d: expected success, got %+v", i, result)
		}
	}
	if responses[2].Error != nil {
		t.Errorf("expected ping to succeed, got %+v", responses[2].Error)
	}
	if responses[5].Error == nil || responses[5].Error.Code != JSONRPCInvalidParams {
		t.Errorf("expected unknown tool to be invalid params, got %+v", responses[5].Error)
	}
}

func TestBatch_OnlyNotifications(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	rr := post(mux, sessionID, `[{"jsonrpc":"2.0","method":"notifications/initialized"}]`)
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rr.Code)
	}

	rr = post(mux, sessionID, `[]`)
	if resp := decodeResponse(t, rr); resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid request for empty batch, got %+v", resp.Error)
	}
}

func TestNotification(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	rr := post(mux, sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestProtocolErrors(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid JSON", `{not json`, JSONRPCParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`, JSONRPCInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, JSONRPCMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeResponse(t, post(mux, sessionID, tt.body))
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("expected error code %d, got %+v", tt.code, resp.Error)
			}
		})
	}

	t.Run("body too large", func(t *testing.T) {
		big := `{"jsonrpc":"2.0","id":1,"method":"ping","params":"` + strings.Repeat("x", MaxRequestBodySize) + `"}`
		resp := decodeResponse(t, post(mux, sessionID, big))
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
			t.Errorf("expected invalid request, got %+v", resp.Error)
		}
	})

	t.Run("unsupported protocol header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		req.Header.Set("Mcp-Session-Id", sessionID)
		req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestDeleteSession(t *testing.T) {
	mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	del := func(id string) int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		if id != "" {
			req.Header.Set("Mcp-Session-Id", id)
		}
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := del(""); code != http.StatusBadRequest {
		t.Errorf("expected 400 without session, got %d", code)
	}
	if code := del(sessionID); code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", code)
	}
	if code := del(sessionID); code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", code)
	}
	if rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":1,"method":"ping"}`); rr.Code != http.StatusNotFound {
		t.Errorf("expected deleted session to be rejected, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := setupTestServer(t)
	for _, method := range []string{http.MethodGet, http.MethodPut} {
		req := httptest.NewRequest(method, "/mcp", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rr.Code)
		}
	}
}

func TestSessionStore_IdleExpiry(t *testing.T) {
	store := newSessionStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	sess := store.create(latestProtocolVersion, "c")

	now = now.Add(50 * time.Second)
	if _, ok := store.get(sess.id); !ok {
		t.Fatal("expected session to be live")
	}

	// The previous get refreshed lastSeen.
	now = now.Add(50 * time.Second)
	if _, ok := store.get(sess.id); !ok {
		t.Fatal("expected session to still be live after refresh")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.get(sess.id); ok {
		t.Error("expected session to expire")
	}
	if store.len() != 0 {
		t.Errorf("expected expired session to be removed, have %d", store.len())
	}
}

func TestSessionStore_SweepRemovesAbandonedSessions(t *testing.T) {
	store := newSessionStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	abandoned := store.create(latestProtocolVersion, "gone")
	now = now.Add(40 * time.Second)
	active := store.create(latestProtocolVersion, "here")

	now = now.Add(30 * time.Second)
	if n := store.sweep(); n != 1 {
		t.Fatalf("expected 1 session swept, got %d", n)
	}
	if _, ok := store.sessions[abandoned.id]; ok {
		t.Error("expected never-revisited session to be removed")
	}
	if _, ok := store.get(active.id); !ok {
		t.Error("expected active session to survive the sweep")
	}
}

func TestSweepInterval(t *testing.T) {
	if got := sweepInterval(10 * time.Second); got != 10*time.Second {
		t.Errorf("expected 10s, got %s", got)
	}
	if got := sweepInterval(DefaultSessionIdle); got != time.Minute {
		t.Errorf("expected 1m, got %s", got)
	}
}

func TestServerClose(t *testing.T) {
	server, err := NewServer(Config{Gateway: toolgate.NewGateway(toolgate.Config{Logger: testLogger()}), Logger: testLogger()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	server.Close()
	server.Close()
}
