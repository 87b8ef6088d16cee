package eventlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/simuverse/internal/storage"
	"github.com/ashita-ai/simuverse/migrations"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// OpenConfig selects and locates a Store backend.
type OpenConfig struct {
	Backend     string
	Path        string // sqlite file or badger directory
	DatabaseURL string // postgres
}

// Open creates the Store named by cfg.Backend.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendBadger:
		return OpenBadger(BadgerOptions{Dir: cfg.Path, Logger: logger})
	case BackendPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, err
		}
		return NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("eventlog: unknown backend %q", cfg.Backend)
	}
}
