// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	notes       map[string]*Note // keyed by "agentID:key"
	invocations []*Invocation

	// RecordErr, when set, is returned by RecordInvocation.
	RecordErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		notes: make(map[string]*Note),
	}
}

func noteKey(agentID, key string) string {
	return agentID + ":" + key
}

// SetNote stores or replaces a note.
func (m *MockStore) SetNote(ctx context.Context, note *Note) error {
	if note.AgentID == "" || note.Key == "" {
		return errors.New("note requires agent_id and key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	k := noteKey(note.AgentID, note.Key)
	if existing, ok := m.notes[k]; ok {
		existing.Value = note.Value
		existing.UpdatedAt = now
		*note = *existing
		return nil
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	// Make a copy to avoid external modification
	n := *note
	m.notes[k] = &n
	return nil
}

// GetNote retrieves a note by agent and key.
func (m *MockStore) GetNote(ctx context.Context, agentID, key string) (*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[noteKey(agentID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListNotes lists an agent's notes in key order.
func (m *MockStore) ListNotes(ctx context.Context, agentID string) ([]*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Note{}
	for _, n := range m.notes {
		if n.AgentID == agentID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteNote removes a note.
func (m *MockStore) DeleteNote(ctx context.Context, agentID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := noteKey(agentID, key)
	if _, ok := m.notes[k]; !ok {
		return ErrNotFound
	}
	delete(m.notes, k)
	return nil
}

// RecordInvocation appends an invocation.
func (m *MockStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}
	cp := *inv
	m.invocations = append(m.invocations, &cp)
	return nil
}

// ListInvocations returns invocations newest first.
func (m *MockStore) ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Invocation{}
	for i := len(m.invocations) - 1; i >= 0; i-- {
		inv := m.invocations[i]
		if f.Tool != "" && inv.Tool != f.Tool {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Since != nil && inv.StartedAt.Before(*f.Since) {
			continue
		}
		cp := *inv
		out = append(out, &cp)
		if len(out) == normalizeInvocationLimit(f.Limit) {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
