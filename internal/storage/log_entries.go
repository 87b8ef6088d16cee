package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/simuverse/internal/model"
)

// copyTimeout bounds one COPY so a hung Postgres cannot stall the event
// buffer's flush loop indefinitely.
const copyTimeout = 30 * time.Second

// InsertLogEntries inserts entries using the COPY protocol. The seq column is
// filled by its sequence default in row order, which fixes the read order.
func (db *DB) InsertLogEntries(ctx context.Context, entries []model.LogEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	columns := []string{"id", "agent_id", "event_type", "occurred_at", "details"}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			e.ID,
			e.AgentID,
			string(e.Type),
			e.Timestamp,
			e.Details,
		}
	}

	var count int64
	err := WithRetry(ctx, logWritePolicy, func(ctx context.Context) error {
		copyCtx, copyCancel := context.WithTimeout(ctx, copyTimeout)
		defer copyCancel()
		var copyErr error
		count, copyErr = db.pool.CopyFrom(
			copyCtx,
			pgx.Identifier{"log_entries"},
			columns,
			pgx.CopyFromRows(rows),
		)
		return copyErr
	})
	if err != nil {
		return 0, fmt.Errorf("storage: copy log entries: %w", err)
	}
	return count, nil
}

const selectLogEntries = `SELECT id, agent_id, event_type, occurred_at, details FROM log_entries`

// GetLogEntries returns one agent's entries in append order, or ErrNotFound.
func (db *DB) GetLogEntries(ctx context.Context, agentID string) ([]model.LogEntry, error) {
	rows, err := db.pool.Query(ctx, selectLogEntries+` WHERE agent_id = $1 ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: query log entries: %w", err)
	}
	entries, err := scanLogEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// ListLogEntries returns every entry in append order.
func (db *DB) ListLogEntries(ctx context.Context) ([]model.LogEntry, error) {
	rows, err := db.pool.Query(ctx, selectLogEntries+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage: query all log entries: %w", err)
	}
	return scanLogEntries(rows)
}

// ListLogAgents returns the sorted ids of agents with at least one entry.
func (db *DB) ListLogAgents(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT DISTINCT agent_id FROM log_entries ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: query log agents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: scan log agents: %w", err)
	}
	return ids, nil
}

// DeleteLogEntries removes every entry.
func (db *DB) DeleteLogEntries(ctx context.Context) error {
	err := WithRetry(ctx, logWritePolicy, func(ctx context.Context) error {
		_, err := db.pool.Exec(ctx, `DELETE FROM log_entries`)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: delete log entries: %w", err)
	}
	return nil
}

func scanLogEntries(rows pgx.Rows) ([]model.LogEntry, error) {
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var (
			e   model.LogEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &typ, &e.Timestamp, &e.Details); err != nil {
			return nil, fmt.Errorf("storage: scan log entry: %w", err)
		}
		e.Type = model.EventType(typ)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
