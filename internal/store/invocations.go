// ABOUTME: Tool invocation audit trail stored in SQLite.
// ABOUTME: One row per tool call outcome, queryable by tool, status, and time.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordInvocation appends an invocation to the audit trail.
// Generates ID and StartedAt if not set.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_invocations (invocation_id, call_id, tool, category, status, diagnostic, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID,
		inv.CallID,
		inv.Tool,
		inv.Category,
		inv.Status,
		nullString(inv.Diagnostic),
		inv.StartedAt.UTC().Format(timeFormat),
		inv.Duration.Milliseconds(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invalid invocation %s: %w", inv.ID, err)
		}
		return fmt.Errorf("inserting invocation: %w", err)
	}

	s.logger.Debug("recorded tool invocation",
		"id", inv.ID,
		"call_id", inv.CallID,
		"tool", inv.Tool,
		"status", inv.Status,
	)
	return nil
}

// normalizeInvocationLimit applies default (100) and cap (1000).
func normalizeInvocationLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListInvocations returns invocations newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error) {
	query := `
		SELECT invocation_id, call_id, tool, category, status, diagnostic, started_at, duration_ms
		FROM tool_invocations
		WHERE 1=1
	`
	var args []any
	if f.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, f.Tool)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Since != nil {
		query += ` AND started_at >= ?`
		args = append(args, f.Since.UTC().Format(timeFormat))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, normalizeInvocationLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Invocation{}
	for rows.Next() {
		var inv Invocation
		var diagnostic sql.NullString
		var startedAt string
		var durationMS int64
		if err := rows.Scan(&inv.ID, &inv.CallID, &inv.Tool, &inv.Category, &inv.Status, &diagnostic, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.Diagnostic = diagnostic.String
		inv.StartedAt, _ = time.Parse(timeFormat, startedAt)
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &inv)
	}
	return out, rows.Err()
}
