//go:build integration

// Package dbtest starts a throwaway Postgres with the hookgate schema applied.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/database"
)

// Postgres is a running container plus its connection string
type Postgres struct {
	DSN       string
	container testcontainers.Container
}

// Start runs postgres:16-alpine and waits until it accepts connections
func Start(t *testing.T) *Postgres {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "hookgate_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pg := &Postgres{
		DSN:       fmt.Sprintf("postgres://test:test@%s:%s/hookgate_test?sslmode=disable", host, port.Port()),
		container: container,
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	return pg
}

// Migrate applies every embedded migration
func (p *Postgres) Migrate(t *testing.T) {
	t.Helper()

	db, err := database.OpenSQL(context.Background(), p.DSN)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	migrator, err := database.NewMigrator(db, "hookgate_test")
	require.NoError(t, err)
	defer func() { _ = migrator.Close() }()

	require.NoError(t, migrator.Up())
}

// Pool opens a pgx pool closed at test cleanup
func (p *Postgres) Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := database.NewPgxPool(context.Background(), database.DefaultPoolConfig(p.DSN))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// NewMigratedPool is Start + Migrate + Pool
func NewMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pg := Start(t)
	pg.Migrate(t)
	return pg.Pool(t)
}
