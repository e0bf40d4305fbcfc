// ABOUTME: Backend protocol types, errors, and the interface the gateway consumes.
// ABOUTME: Events carry genai content so assistant text and tool parts share one model.

package backend

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrSessionNotFound is returned when the backend has no record of a session.
// It is the only signal that drives session recovery.
var ErrSessionNotFound = errors.New("session not found")

// ErrUnavailable is returned for every other backend failure: transport
// errors, timeouts, and unexpected status codes.
var ErrUnavailable = errors.New("backend unavailable")

// Backend is the stateful agent backend. Every method takes the agent's
// endpoint so one client can serve all registered agents.
type Backend interface {
	CreateSession(ctx context.Context, endpoint, agent, user, sessionID string) error
	RunTurn(ctx context.Context, endpoint, agent, user, sessionID, message string) ([]Event, error)
	FetchSession(ctx context.Context, endpoint, agent, user, sessionID string) ([]Event, error)
}

// Event is one entry in a session's event log.
type Event struct {
	ID           string         `json:"id,omitempty"`
	InvocationID string         `json:"invocationId,omitempty"`
	Author       string         `json:"author,omitempty"`
	Content      *genai.Content `json:"content,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	Timestamp    float64        `json:"timestamp,omitempty"`
}

// Session is the backend's view of a session as returned by FetchSession.
type Session struct {
	ID             string  `json:"id"`
	AppName        string  `json:"appName"`
	UserID         string  `json:"userId"`
	Events         []Event `json:"events"`
	LastUpdateTime float64 `json:"lastUpdateTime,omitempty"`
}

// RunRequest is the body of a turn execution request.
type RunRequest struct {
	AppName    string         `json:"appName"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId"`
	NewMessage *genai.Content `json:"newMessage"`
	Streaming  bool           `json:"streaming"`
}

// Error describes a failed backend call. It matches both ErrUnavailable and
// the underlying cause under errors.Is.
type Error struct {
	Op     string // create_session, run_turn, fetch_session
	Status int    // HTTP status, zero for transport failures
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// UserMessage builds the content sent for a user turn.
func UserMessage(text string) *genai.Content {
	return genai.NewContentFromText(text, genai.RoleUser)
}
