// ABOUTME: Turn and history flows shared by the HTTP and websocket transports.
// ABOUTME: Resolves the agent, runs the turn under session recovery, and normalizes the result.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/relay-gateway/internal/backend"
	"github.com/2389/relay-gateway/internal/dedupe"
	"github.com/2389/relay-gateway/internal/normalize"
	"github.com/2389/relay-gateway/internal/session"
)

// Turn statuses reported to clients.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateInFlight means a turn with the same message_id is still running.
	ErrDuplicateInFlight = errors.New("duplicate message in flight")
)

// TurnRequest is one user message addressed to an agent.
type TurnRequest struct {
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"` // optional idempotency key
}

// TurnResponse carries the agent's final answer and the session to use next.
type TurnResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

// HistoryRequest identifies a conversation to read back.
type HistoryRequest struct {
	AgentName string `json:"agent_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Format    string `json:"format,omitempty"` // "" or "html"
}

// HistoryResponse is the normalized conversation.
type HistoryResponse struct {
	History []normalize.ChatTurn `json:"history"`
}

func (r *TurnRequest) validate() error {
	r.AgentName = strings.TrimSpace(r.AgentName)
	r.UserID = strings.TrimSpace(r.UserID)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.MessageID = strings.TrimSpace(r.MessageID)

	switch {
	case r.AgentName == "":
		return fmt.Errorf("%w: agent_name is required", ErrInvalidRequest)
	case r.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

func (r *HistoryRequest) validate() error {
	r.AgentName = strings.TrimSpace(r.AgentName)
	r.UserID = strings.TrimSpace(r.UserID)
	r.SessionID = strings.TrimSpace(r.SessionID)

	switch {
	case r.AgentName == "":
		return fmt.Errorf("%w: agent_name is required", ErrInvalidRequest)
	case r.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case r.Format != "" && r.Format != "html":
		return fmt.Errorf("%w: format must be html or empty", ErrInvalidRequest)
	}
	return nil
}

// dedupeKey scopes a message_id to its agent and user.
func dedupeKey(req TurnRequest) string {
	return req.AgentName + "\x00" + req.UserID + "\x00" + req.MessageID
}

// RunTurn executes one turn. On failure the returned TurnResponse still
// carries status "error" and, when a session was attempted, its id.
func (g *Gateway) RunTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	if err := req.validate(); err != nil {
		return TurnResponse{AgentName: req.AgentName, Status: StatusError, Response: err.Error()}, err
	}

	if req.MessageID == "" {
		return g.runTurn(ctx, req)
	}

	key := dedupeKey(req)
	cached, state, claim := g.dedupe.Begin(key)
	switch state {
	case dedupe.Completed:
		g.logger.Debug("replaying completed turn", "agent", req.AgentName, "message_id", req.MessageID)
		return cached, nil
	case dedupe.InFlight:
		err := fmt.Errorf("%w: %s", ErrDuplicateInFlight, req.MessageID)
		return TurnResponse{AgentName: req.AgentName, Status: StatusError, Response: err.Error()}, err
	}

	resp, err := g.runTurn(ctx, req)
	if err != nil {
		// Failed turns are not remembered so the client can retry.
		g.dedupe.Abandon(claim)
		return resp, err
	}
	g.dedupe.Complete(claim, resp)
	return resp, nil
}

func (g *Gateway) runTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	started := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway.turn", trace.WithAttributes(
		attribute.String("agent.name", req.AgentName),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	resp := TurnResponse{AgentName: req.AgentName, SessionID: req.SessionID, Status: StatusError}
	fail := func(err error) (TurnResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		resp.Response = clientMessage(err)
		g.metrics.TurnCompleted(ctx, req.AgentName, StatusError, time.Since(started))
		return resp, err
	}

	desc, err := g.agents.Resolve(req.AgentName)
	if err != nil {
		return fail(err)
	}

	target := session.Target{Agent: desc.Name, Endpoint: desc.Endpoint, User: req.UserID}
	res, err := g.sessions.EnsureAndRun(ctx, target, req.SessionID, func(ctx context.Context, sessionID string) ([]backend.Event, error) {
		return g.backend.RunTurn(ctx, desc.Endpoint, desc.Name, req.UserID, sessionID, req.Message)
	})
	if res.SessionID != "" {
		resp.SessionID = res.SessionID
	}
	if err != nil {
		g.logger.Warn("turn failed",
			"agent", req.AgentName,
			"user_id", req.UserID,
			"session_id", resp.SessionID,
			"error", err,
		)
		return fail(err)
	}

	resp.Response = normalize.FinalAnswer(res.Events)
	resp.Status = StatusSuccess
	if !normalize.HasAnswer(res.Events) {
		g.logger.Warn("turn produced no answer", "agent", req.AgentName, "session_id", resp.SessionID, "events", len(res.Events))
	}

	span.SetAttributes(
		attribute.String("session.id", resp.SessionID),
		attribute.Bool("session.recovered", res.Recovered),
	)
	g.metrics.TurnCompleted(ctx, req.AgentName, StatusSuccess, time.Since(started))
	return resp, nil
}

// History returns the normalized conversation for a session. A missing or
// unknown session yields an empty history, not an error.
func (g *Gateway) History(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	empty := HistoryResponse{History: []normalize.ChatTurn{}}
	if err := req.validate(); err != nil {
		return empty, err
	}

	desc, err := g.agents.Resolve(req.AgentName)
	if err != nil {
		return empty, err
	}
	if req.SessionID == "" {
		return empty, nil
	}

	events, err := g.backend.FetchSession(ctx, desc.Endpoint, desc.Name, req.UserID, req.SessionID)
	if errors.Is(err, backend.ErrSessionNotFound) {
		return empty, nil
	}
	if err != nil {
		return empty, err
	}

	turns := normalize.History(events)
	if req.Format == "html" {
		for i := range turns {
			turns[i].Content = g.renderMarkdown(turns[i].Content)
		}
	}
	return HistoryResponse{History: turns}, nil
}

// clientMessage is the text returned to clients for a failed turn.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, session.ErrSessionLost):
		return "agent session could not be recovered"
	case errors.Is(err, context.DeadlineExceeded):
		return "agent backend timed out"
	case errors.Is(err, backend.ErrUnavailable):
		return "agent backend unavailable"
	default:
		return err.Error()
	}
}
