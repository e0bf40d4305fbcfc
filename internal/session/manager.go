// ABOUTME: Session lifecycle manager that hides backend session creation and loss from callers.
// ABOUTME: Runs a turn against an existing session and recovers exactly once when the backend forgets it.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/relay-gateway/internal/backend"
)

// ErrSessionLost indicates the backend forgot a session during a request.
// It is recovered from once; a second loss is reported wrapped together with
// backend.ErrUnavailable.
var ErrSessionLost = errors.New("session lost")

// Creator creates backend sessions.
type Creator interface {
	CreateSession(ctx context.Context, endpoint, agent, user, sessionID string) error
}

// Recorder observes lifecycle transitions. Implementations must be safe for
// concurrent use.
type Recorder interface {
	SessionCreated(ctx context.Context, agent string)
	SessionRecovered(ctx context.Context, agent string)
}

// TurnFunc runs one turn against sessionID.
type TurnFunc func(ctx context.Context, sessionID string) ([]backend.Event, error)

// Target identifies whose session is being managed.
type Target struct {
	Agent    string
	Endpoint string
	User     string
}

// Result describes how a turn was run.
type Result struct {
	// SessionID is the session used by the final attempt. Callers must
	// persist it, even when it matches the one they sent.
	SessionID string

	// Created is true when the caller supplied no session.
	Created bool

	// Recovered is true when the supplied session was lost and replaced.
	Recovered bool

	// PreviousSessionID is the lost session when Recovered is true.
	PreviousSessionID string

	Events []backend.Event
}

// Config holds the dependencies of a Manager.
type Config struct {
	Creator   Creator
	Generator Generator
	Recorder  Recorder
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// Manager ensures a live session exists for every turn. It keeps no state
// between requests; the backend is the only source of truth for sessions.
type Manager struct {
	creator   Creator
	generator Generator
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewManager creates a Manager. Generator defaults to a ULIDGenerator.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Creator == nil {
		return nil, errors.New("session creator is required")
	}
	gen := cfg.Generator
	if gen == nil {
		gen = NewULIDGenerator()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("relay-gateway/session")
	}
	return &Manager{
		creator:   cfg.Creator,
		generator: gen,
		recorder:  rec,
		logger:    logger,
		tracer:    tracer,
	}, nil
}

// EnsureAndRun runs fn against a live session for target.
//
// With no sessionID a new session is created first. With a sessionID the
// turn is attempted optimistically; if the backend reports the session as
// not found, one replacement is created and fn is retried exactly once.
// A second not-found fails with an error matching both ErrSessionLost and
// backend.ErrUnavailable. Other errors propagate unchanged.
//
// Result.SessionID is set whenever a session was attempted, including on
// error.
func (m *Manager) EnsureAndRun(ctx context.Context, target Target, sessionID string, fn TurnFunc) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "session.ensure_and_run", trace.WithAttributes(
		attribute.String("agent.name", target.Agent),
		attribute.String("user.id", target.User),
		attribute.Bool("session.supplied", sessionID != ""),
	))
	defer span.End()

	if sessionID == "" {
		id, err := m.create(ctx, target)
		if err != nil {
			return Result{}, err
		}
		events, err := fn(ctx, id)
		if err != nil {
			if errors.Is(err, backend.ErrSessionNotFound) {
				return Result{SessionID: id, Created: true}, lostAgain(id, err)
			}
			return Result{SessionID: id, Created: true}, err
		}
		span.SetAttributes(attribute.String("session.id", id))
		return Result{SessionID: id, Created: true, Events: events}, nil
	}

	events, err := fn(ctx, sessionID)
	if err == nil {
		span.SetAttributes(attribute.String("session.id", sessionID))
		return Result{SessionID: sessionID, Events: events}, nil
	}
	if !errors.Is(err, backend.ErrSessionNotFound) {
		return Result{SessionID: sessionID}, err
	}

	m.logger.Info("session lost, recovering",
		"agent", target.Agent,
		"user_id", target.User,
		"session_id", sessionID,
	)

	newID, err := m.create(ctx, target)
	if err != nil {
		return Result{SessionID: sessionID}, fmt.Errorf("recovering lost session %s: %w", sessionID, err)
	}
	m.recorder.SessionRecovered(ctx, target.Agent)

	res := Result{SessionID: newID, Recovered: true, PreviousSessionID: sessionID}
	events, err = fn(ctx, newID)
	if err != nil {
		if errors.Is(err, backend.ErrSessionNotFound) {
			return res, lostAgain(newID, err)
		}
		return res, err
	}

	m.logger.Info("session recovered",
		"agent", target.Agent,
		"user_id", target.User,
		"previous_session_id", sessionID,
		"session_id", newID,
	)
	span.SetAttributes(
		attribute.String("session.id", newID),
		attribute.Bool("session.recovered", true),
	)
	res.Events = events
	return res, nil
}

func (m *Manager) create(ctx context.Context, target Target) (string, error) {
	id := m.generator.NewID()
	if err := m.creator.CreateSession(ctx, target.Endpoint, target.Agent, target.User, id); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	m.recorder.SessionCreated(ctx, target.Agent)
	m.logger.Debug("session created", "agent", target.Agent, "user_id", target.User, "session_id", id)
	return id, nil
}

// lostAgain reports a session that vanished with no recovery attempt left.
// The not-found cause is flattened to text so callers cannot mistake the
// result for a recoverable loss.
func lostAgain(sessionID string, cause error) error {
	return fmt.Errorf("session %s: %w: %w (%v)", sessionID, backend.ErrUnavailable, ErrSessionLost, cause)
}

type nopRecorder struct{}

func (nopRecorder) SessionCreated(context.Context, string)   {}
func (nopRecorder) SessionRecovered(context.Context, string) {}
