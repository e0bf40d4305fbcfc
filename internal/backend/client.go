// ABOUTME: HTTP client for ADK-style agent backends.
// ABOUTME: Applies per-operation timeouts and classifies "session not found" responses.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxResponseBodySize bounds how much of a backend response is read (16MB).
const MaxResponseBodySize = 16 << 20

// Default per-operation timeouts.
const (
	DefaultCreateTimeout  = 10 * time.Second
	DefaultTurnTimeout    = 90 * time.Second
	DefaultHistoryTimeout = 30 * time.Second
)

// Timeouts bounds each backend operation independently.
type Timeouts struct {
	Create  time.Duration
	Turn    time.Duration
	History time.Duration
}

// ClientConfig holds configuration for the HTTP backend client.
type ClientConfig struct {
	HTTPClient *http.Client
	Timeouts   Timeouts
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Client talks to the backend's REST surface:
//
//	POST {endpoint}/apps/{agent}/users/{user}/sessions/{id}
//	POST {endpoint}/run
//	GET  {endpoint}/apps/{agent}/users/{user}/sessions/{id}
type Client struct {
	http     *http.Client
	timeouts Timeouts
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client, filling unset timeouts with defaults.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("relay-gateway/backend")
	}

	t := cfg.Timeouts
	if t.Create <= 0 {
		t.Create = DefaultCreateTimeout
	}
	if t.Turn <= 0 {
		t.Turn = DefaultTurnTimeout
	}
	if t.History <= 0 {
		t.History = DefaultHistoryTimeout
	}

	return &Client{
		http:     httpClient,
		timeouts: t,
		logger:   logger,
		tracer:   tracer,
	}
}

// CreateSession creates sessionID for (agent, user). It is a pure write and
// uses the short create timeout.
func (c *Client) CreateSession(ctx context.Context, endpoint, agent, user, sessionID string) error {
	const op = "create_session"
	ctx, span := c.startSpan(ctx, op, agent, user, sessionID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Create)
	defer cancel()

	err := c.do(ctx, op, http.MethodPost, sessionURL(endpoint, agent, user, sessionID), map[string]any{}, nil)
	recordSpanError(span, err)
	return err
}

// RunTurn sends message as a user turn and returns the events the turn produced.
func (c *Client) RunTurn(ctx context.Context, endpoint, agent, user, sessionID, message string) ([]Event, error) {
	const op = "run_turn"
	ctx, span := c.startSpan(ctx, op, agent, user, sessionID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Turn)
	defer cancel()

	req := RunRequest{
		AppName:    agent,
		UserID:     user,
		SessionID:  sessionID,
		NewMessage: UserMessage(message),
	}

	var events []Event
	err := c.do(ctx, op, http.MethodPost, endpoint+"/run", req, &events)
	recordSpanError(span, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("backend.events", len(events)))
	return events, nil
}

// FetchSession returns the full event log of a session.
func (c *Client) FetchSession(ctx context.Context, endpoint, agent, user, sessionID string) ([]Event, error) {
	const op = "fetch_session"
	ctx, span := c.startSpan(ctx, op, agent, user, sessionID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.History)
	defer cancel()

	var sess Session
	err := c.do(ctx, op, http.MethodGet, sessionURL(endpoint, agent, user, sessionID), nil, &sess)
	recordSpanError(span, err)
	if err != nil {
		return nil, err
	}
	return sess.Events, nil
}

// do performs one request and decodes a JSON response into out when non-nil.
// The response body is closed on every path.
func (c *Client) do(ctx context.Context, op, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "op", op, "url", target, "error", err)
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	c.logger.Debug("backend response",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(payload),
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		if isSessionNotFound(resp.StatusCode, payload) {
			return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		return &Error{Op: op, Status: resp.StatusCode, Err: errors.New(snippet(payload))}
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// isSessionNotFound classifies a failed response. A 404 always means the
// session is gone; other error statuses count only when the body says so,
// since some backends raise a 500 for a missing session during a run.
func isSessionNotFound(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	return status >= 400 && strings.Contains(strings.ToLower(string(body)), "session not found")
}

func sessionURL(endpoint, agent, user, sessionID string) string {
	return fmt.Sprintf("%s/apps/%s/users/%s/sessions/%s",
		endpoint,
		url.PathEscape(agent),
		url.PathEscape(user),
		url.PathEscape(sessionID),
	)
}

// snippetLen bounds how much of a failed response body ends up in errors.
const snippetLen = 200

func snippet(body []byte) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(s) > snippetLen {
		cut := snippetLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}

func (c *Client) startSpan(ctx context.Context, op, agent, user, sessionID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "backend."+op, trace.WithAttributes(
		attribute.String("agent.name", agent),
		attribute.String("user.id", user),
		attribute.String("session.id", sessionID),
	))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
