package eventlog

import (
	"context"
	"errors"

	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/storage"
)

// PostgresStore persists entries in PostgreSQL through storage.DB.
type PostgresStore struct {
	db *storage.DB
}

// NewPostgresStore wraps db. The caller runs migrations before first use.
func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, entries []model.LogEntry) error {
	_, err := p.db.InsertLogEntries(ctx, entries)
	return err
}

func (p *PostgresStore) Entries(ctx context.Context, agentID string) ([]model.LogEntry, error) {
	entries, err := p.db.GetLogEntries(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return entries, err
}

func (p *PostgresStore) All(ctx context.Context) (map[string][]model.LogEntry, error) {
	entries, err := p.db.ListLogEntries(ctx)
	if err != nil {
		return nil, err
	}
	return groupByAgent(entries), nil
}

func (p *PostgresStore) Agents(ctx context.Context) ([]string, error) {
	return p.db.ListLogAgents(ctx)
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	return p.db.DeleteLogEntries(ctx)
}

func (p *PostgresStore) Close() error {
	p.db.Close()
	return nil
}
