// ABOUTME: HTTP API handlers for turns, history, agent listing, and tool execution.
// ABOUTME: Maps domain errors to status codes and writes JSON bodies.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/backend"
	"github.com/2389/relay-gateway/internal/toolgate"
)

// MaxRequestBodySize is the maximum allowed size for API request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// AgentsResponse is the JSON response for GET /api/agents.
type AgentsResponse struct {
	Agents []agent.Descriptor `json:"agents"`
}

// ToolsResponse is the JSON response for GET /api/tools.
type ToolsResponse struct {
	Tools []toolgate.Definition `json:"tools"`
}

// ExecuteToolsRequest is the JSON request body for POST /api/tools/execute.
type ExecuteToolsRequest struct {
	Caller string          `json:"caller,omitempty"`
	Calls  []toolgate.Call `json:"calls"`
}

// ExecuteToolsResponse holds one outcome per requested call, in order.
type ExecuteToolsResponse struct {
	Results []toolgate.Outcome `json:"results"`
}

// statusFor maps a turn or history error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateInFlight):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		// Backend errors also wrap ErrUnavailable; a timeout takes precedence.
		return http.StatusGatewayTimeout
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleTurn handles POST /api/turn.
func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req TurnRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := g.RunTurn(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest || status == http.StatusConflict {
			g.sendJSONError(w, status, err.Error())
			return
		}
		g.sendJSON(w, status, resp)
		return
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleHistory handles GET /api/history (query parameters) and POST
// /api/history (JSON body).
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = HistoryRequest{
			AgentName: q.Get("agent_name"),
			UserID:    q.Get("user_id"),
			SessionID: q.Get("session_id"),
			Format:    q.Get("format"),
		}
	case http.MethodPost:
		if err := decodeBody(r, &req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if f := r.URL.Query().Get("format"); f != "" {
			req.Format = f
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp, err := g.History(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			g.logger.Warn("history fetch failed", "agent", req.AgentName, "session_id", req.SessionID, "error", err)
		}
		g.sendJSONError(w, status, clientMessage(err))
		return
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, AgentsResponse{Agents: g.agents.List()})
}

// handleListTools handles GET /api/tools.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, ToolsResponse{Tools: g.tools.Registry().List()})
}

// handleExecuteTools handles POST /api/tools/execute. The response always
// holds exactly one outcome per call; tool failures never change the HTTP
// status.
func (g *Gateway) handleExecuteTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ExecuteToolsRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := req.Caller
	if caller == "" {
		caller = "api"
	}
	for i := range req.Calls {
		if req.Calls[i].Caller == "" {
			req.Calls[i].Caller = caller
		}
	}

	results := g.tools.ExecuteBatch(r.Context(), req.Calls)
	g.sendJSON(w, http.StatusOK, ExecuteToolsResponse{Results: results})
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(body) > MaxRequestBodySize {
		return errors.New("request body too large")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
