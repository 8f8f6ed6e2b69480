package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	pipeline "github.com/goliatone/go-pipeline"
)

func TestPostgresDriverTenantLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docpipe"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m := NewManager(NewPostgresDriver(dsn))
	defer m.Close()

	tenant := pipeline.Tenant{ID: "acme"}
	h, err := m.Provision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, h.Dialect)

	ready, err := m.SchemaReady(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, ready)

	require.Error(t, m.Create(ctx, tenant))

	_, err = h.ExecContext(ctx,
		`INSERT INTO campaigns (id, tenant_id, name, pipeline, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"c1", "acme", "Intake", `{"processors":[]}`, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	)
	require.NoError(t, err)

	var name string
	require.NoError(t, h.QueryRowContext(ctx, `SELECT name FROM campaigns WHERE id = ?`, "c1").Scan(&name))
	assert.Equal(t, "Intake", name)
}
