// ABOUTME: SQLite implementation of NoteStore for the notes tool.
// ABOUTME: Notes are upserted by (agent_id, key) and listed in key order.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetNote creates or updates a note.
func (s *SQLiteStore) SetNote(ctx context.Context, note *Note) error {
	if note.AgentID == "" || note.Key == "" {
		return errors.New("note requires agent_id and key")
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, agent_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, note.ID, note.AgentID, note.Key, note.Value,
		note.CreatedAt.UTC().Format(timeFormat), note.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upserting note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by agent and key.
func (s *SQLiteStore) GetNote(ctx context.Context, agentID, key string) (*Note, error) {
	var n Note
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, key, value, created_at, updated_at
		FROM notes WHERE agent_id = ? AND key = ?
	`, agentID, key).Scan(&n.ID, &n.AgentID, &n.Key, &n.Value, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}

	n.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	n.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &n, nil
}

// ListNotes lists all notes for an agent.
func (s *SQLiteStore) ListNotes(ctx context.Context, agentID string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, key, value, created_at, updated_at
		FROM notes WHERE agent_id = ?
		ORDER BY key ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notes := []*Note{}
	for rows.Next() {
		var n Note
		var createdAt, updatedAt string
		if err := rows.Scan(&n.ID, &n.AgentID, &n.Key, &n.Value, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		n.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// DeleteNote deletes a note by agent and key.
func (s *SQLiteStore) DeleteNote(ctx context.Context, agentID, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE agent_id = ? AND key = ?`, agentID, key)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
