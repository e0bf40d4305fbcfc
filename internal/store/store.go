// ABOUTME: Store interfaces and data types for relay-gateway persistence
// ABOUTME: Defines Note and Invocation records plus the interfaces the tool layer depends on

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Note is a key-value note scoped to an agent
type Note struct {
	ID        string
	AgentID   string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvocationStatus is the terminal state of a tool invocation.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "success"
	InvocationError   InvocationStatus = "error"
	InvocationTimeout InvocationStatus = "timeout"
)

// Invocation records one tool call made through the gateway.
type Invocation struct {
	ID         string
	CallID     string
	Tool       string
	Category   string
	Status     InvocationStatus
	Diagnostic string
	StartedAt  time.Time
	Duration   time.Duration
}

// InvocationFilter narrows ListInvocations results.
type InvocationFilter struct {
	Tool   string
	Status InvocationStatus
	Since  *time.Time
	Limit  int // default 100, max 1000
}

// NoteStore persists notes for the notes tool.
type NoteStore interface {
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, agentID, key string) (*Note, error)
	ListNotes(ctx context.Context, agentID string) ([]*Note, error)
	DeleteNote(ctx context.Context, agentID, key string) error
}

// InvocationStore persists the tool invocation audit trail.
type InvocationStore interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
	ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error)
}

// Store is everything the gateway persists.
type Store interface {
	NoteStore
	InvocationStore
	Close() error
}
