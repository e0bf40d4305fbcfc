// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers initialization, note upserts, and the tool invocation audit trail

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SetNote(ctx, &Note{AgentID: "a", Key: "k", Value: "v"}))

	got, err := s.GetNote(ctx, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SetNote(ctx, &Note{AgentID: "a", Key: "k", Value: "kept"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetNote(ctx, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Value)
}

func TestNotes(t *testing.T) {
	ctx := context.Background()

	for name, s := range map[string]NoteStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	} {
		t.Run(name, func(t *testing.T) {
			note := &Note{AgentID: "agent-1", Key: "color", Value: "blue"}
			require.NoError(t, s.SetNote(ctx, note))
			assert.NotEmpty(t, note.ID)
			assert.False(t, note.CreatedAt.IsZero())

			require.NoError(t, s.SetNote(ctx, &Note{AgentID: "agent-1", Key: "color", Value: "green"}))
			require.NoError(t, s.SetNote(ctx, &Note{AgentID: "agent-1", Key: "animal", Value: "owl"}))
			require.NoError(t, s.SetNote(ctx, &Note{AgentID: "agent-2", Key: "color", Value: "red"}))

			got, err := s.GetNote(ctx, "agent-1", "color")
			require.NoError(t, err)
			assert.Equal(t, "green", got.Value, "second set overwrites")

			notes, err := s.ListNotes(ctx, "agent-1")
			require.NoError(t, err)
			require.Len(t, notes, 2)
			assert.Equal(t, "animal", notes[0].Key)
			assert.Equal(t, "color", notes[1].Key)

			_, err = s.GetNote(ctx, "agent-1", "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.DeleteNote(ctx, "agent-1", "color"))
			assert.ErrorIs(t, s.DeleteNote(ctx, "agent-1", "color"), ErrNotFound)

			empty, err := s.ListNotes(ctx, "nobody")
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			assert.Error(t, s.SetNote(ctx, &Note{Key: "k"}), "agent_id is required")
		})
	}
}

func TestInvocations(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for name, s := range map[string]InvocationStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	} {
		t.Run(name, func(t *testing.T) {
			records := []*Invocation{
				{CallID: "c1", Tool: "web_search", Category: "search", Status: InvocationSuccess, StartedAt: base, Duration: 120 * time.Millisecond},
				{CallID: "c2", Tool: "http_fetch", Category: "fetch", Status: InvocationTimeout, Diagnostic: "timed out after 30s", StartedAt: base.Add(10 * time.Minute), Duration: 30 * time.Second},
				{CallID: "c3", Tool: "web_search", Category: "search", Status: InvocationError, Diagnostic: "boom", StartedAt: base.Add(20 * time.Minute)},
			}
			for _, r := range records {
				require.NoError(t, s.RecordInvocation(ctx, r))
				assert.NotEmpty(t, r.ID)
			}

			all, err := s.ListInvocations(ctx, InvocationFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c3", all[0].CallID, "newest first")
			assert.Equal(t, "c1", all[2].CallID)
			assert.Equal(t, 120*time.Millisecond, all[2].Duration)

			searches, err := s.ListInvocations(ctx, InvocationFilter{Tool: "web_search"})
			require.NoError(t, err)
			assert.Len(t, searches, 2)

			timeouts, err := s.ListInvocations(ctx, InvocationFilter{Status: InvocationTimeout})
			require.NoError(t, err)
			require.Len(t, timeouts, 1)
			assert.Equal(t, "timed out after 30s", timeouts[0].Diagnostic)

			since := base.Add(5 * time.Minute)
			recent, err := s.ListInvocations(ctx, InvocationFilter{Since: &since})
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			limited, err := s.ListInvocations(ctx, InvocationFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestRecordInvocation_RejectsUnknownStatus(t *testing.T) {
	s := setupTestStore(t)
	err := s.RecordInvocation(context.Background(), &Invocation{CallID: "c", Tool: "t", Category: "x", Status: "exploded"})
	assert.Error(t, err)
}

func TestNormalizeInvocationLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeInvocationLimit(0))
	assert.Equal(t, 100, normalizeInvocationLimit(-5))
	assert.Equal(t, 7, normalizeInvocationLimit(7))
	assert.Equal(t, 1000, normalizeInvocationLimit(5000))
}
