// Package testutil provides shared test infrastructure: a quiet logger and a
// PostgreSQL instance for integration tests.
//
// Integration tests run against SIMUVERSE_TEST_DATABASE_URL when it is set,
// and otherwise start a disposable container:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/simuverse/internal/storage"
	"github.com/ashita-ai/simuverse/migrations"
)

// DatabaseURLEnv names an existing database to use instead of a container.
const DatabaseURLEnv = "SIMUVERSE_TEST_DATABASE_URL"

// TestContainer is a reachable Postgres: either a started container or an
// external database named by DatabaseURLEnv (Container is nil then).
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres returns a Postgres for integration tests.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	if dsn := os.Getenv(DatabaseURLEnv); dsn != "" {
		return &TestContainer{DSN: dsn}, nil
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "simuverse",
				"POSTGRES_PASSWORD": "simuverse",
				"POSTGRES_DB":       "simuverse",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	tc := &TestContainer{Container: container}
	host, err := container.Host(ctx)
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}
	tc.DSN = fmt.Sprintf("postgres://simuverse:simuverse@%s:%s/simuverse?sslmode=disable", host, port.Port())
	return tc, nil
}

// MustStartPostgres is StartPostgres for TestMain: it exits the process on
// failure.
func MustStartPostgres() *TestContainer {
	tc, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return tc
}

// NewTestDB connects to the database, applies migrations and empties
// log_entries so each package starts from a clean table.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	if err := db.DeleteLogEntries(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: clear log entries: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container. External databases are left
// alone.
func (tc *TestContainer) Terminate() {
	if tc.Container != nil {
		_ = tc.Container.Terminate(context.Background())
	}
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
