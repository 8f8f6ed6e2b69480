package connection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/goliatone/go-pipeline"
)

func newSQLiteManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(NewSQLiteDriver(dir))
	t.Cleanup(func() { _ = m.Close() })
	return m, dir
}

func TestManagerCreateAndLocate(t *testing.T) {
	ctx := context.Background()
	m, dir := newSQLiteManager(t)
	tenant := pipeline.Tenant{ID: "acme"}

	exists, err := m.Exists(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Locate(ctx, tenant)
	require.Error(t, err)
	assert.True(t, pipeline.IsContextError(err), "missing store must be a context error: %v", err)

	require.NoError(t, m.Create(ctx, tenant))
	_, err = os.Stat(filepath.Join(dir, "tenant_acme.db"))
	require.NoError(t, err, "store file must be named after the tenant id")

	err = m.Create(ctx, tenant)
	require.Error(t, err, "creating an existing store must fail")

	h, err := m.Locate(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", h.Name)
	assert.Equal(t, "acme", h.TenantID)
	assert.Equal(t, DialectSQLite, h.Dialect)

	again, err := m.Locate(ctx, tenant)
	require.NoError(t, err)
	assert.Same(t, h, again, "handles are cached per store")
}

func TestManagerSchemaRepair(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteManager(t)
	tenant := pipeline.Tenant{ID: "globex"}
	require.NoError(t, m.Create(ctx, tenant))

	ready, err := m.SchemaReady(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, ready)

	missing, err := m.MissingTables(ctx, tenant)
	require.NoError(t, err)
	assert.ElementsMatch(t, RequiredTables, missing)

	require.NoError(t, m.RepairSchema(ctx, tenant))
	ready, err = m.SchemaReady(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, ready)

	// drop a table and repair again: the whole set is re-applied
	h, err := m.Locate(ctx, tenant)
	require.NoError(t, err)
	_, err = h.ExecContext(ctx, `DROP TABLE processor_executions`)
	require.NoError(t, err)

	ready, err = m.SchemaReady(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, m.RepairSchema(ctx, tenant))
	ready, err = m.SchemaReady(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, ready)

	var versions int
	require.NoError(t, h.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, len(TenantMigrations), versions)
}

func TestManagerRejectsInvalidTenantID(t *testing.T) {
	m, _ := newSQLiteManager(t)
	_, err := m.Locate(context.Background(), pipeline.Tenant{ID: "../etc"})
	require.Error(t, err)
	assert.True(t, pipeline.IsContextError(err))
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteManager(t)
	h, err := m.Provision(ctx, pipeline.Tenant{ID: "initech"})
	require.NoError(t, err)
	assert.Equal(t, "tenant_initech", h.Name)

	ready, err := m.SchemaReady(ctx, pipeline.Tenant{ID: "initech"})
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT '?' FROM t WHERE a = $1", Rebind("SELECT '?' FROM t WHERE a = ?"))

	sqliteHandle := &Handle{Dialect: DialectSQLite}
	assert.Equal(t, "a = ?", sqliteHandle.Rebind("a = ?"))
	pgHandle := &Handle{Dialect: DialectPostgres}
	assert.Equal(t, "a = $1", pgHandle.Rebind("a = ?"))
}
