package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/migrations"
)

// SQLiteStore persists entries in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	// One writer keeps appends strictly ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := applySQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func applySQLiteSchema(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrations.SQLiteFS, "sqlite")
	if err != nil {
		return fmt.Errorf("eventlog: sqlite migrations: %w", err)
	}
	files, err := fs.Glob(sub, "*.sql")
	if err != nil {
		return fmt.Errorf("eventlog: sqlite migrations: %w", err)
	}
	for _, name := range files {
		content, err := fs.ReadFile(sub, name)
		if err != nil {
			return fmt.Errorf("eventlog: read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("eventlog: execute migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO log_entries (id, agent_id, event_type, occurred_at, details) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("eventlog: sqlite prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("eventlog: marshal details: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID.String(), e.AgentID, string(e.Type), e.Timestamp.UTC().Format(time.RFC3339Nano), string(details),
		); err != nil {
			return fmt.Errorf("eventlog: sqlite insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventlog: sqlite commit: %w", err)
	}
	return nil
}

const sqliteSelect = `SELECT id, agent_id, event_type, occurred_at, details FROM log_entries`

func (s *SQLiteStore) Entries(ctx context.Context, agentID string) ([]model.LogEntry, error) {
	entries, err := s.query(ctx, sqliteSelect+` WHERE agent_id = ? ORDER BY seq`, agentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string][]model.LogEntry, error) {
	entries, err := s.query(ctx, sqliteSelect+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return groupByAgent(entries), nil
}

func (s *SQLiteStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM log_entries ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("eventlog: sqlite agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("eventlog: sqlite scan agent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return fmt.Errorf("eventlog: sqlite clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: sqlite query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LogEntry
	for rows.Next() {
		var (
			id, agentID, typ, ts, details string
		)
		if err := rows.Scan(&id, &agentID, &typ, &ts, &details); err != nil {
			return nil, fmt.Errorf("eventlog: sqlite scan: %w", err)
		}
		e := model.LogEntry{AgentID: agentID, Type: model.EventType(typ)}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("eventlog: sqlite parse id: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("eventlog: sqlite parse timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("eventlog: sqlite decode details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
