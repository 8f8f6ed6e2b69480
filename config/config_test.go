package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Equal(t, "landlord", cfg.Store.Landlord)
	assert.Equal(t, "@every 5s", cfg.Durable.Sweep)
	assert.Equal(t, 4, cfg.Durable.Concurrency)
	assert.Equal(t, 50, cfg.Durable.Batch)
	assert.Empty(t, cfg.Durable.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: Postgres
  dsn: postgres://docpipe@localhost:5432/postgres
durable:
  dir: /var/lib/docpipe/checkpoints
  concurrency: 8
log:
  format: json
`), 0o600))

	t.Setenv("DOCPIPE_DURABLE_BATCH", "10")
	t.Setenv("DOCPIPE_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://docpipe@localhost:5432/postgres", cfg.Store.DSN)
	assert.Equal(t, "/var/lib/docpipe/checkpoints", cfg.Durable.Dir)
	assert.Equal(t, 8, cfg.Durable.Concurrency)
	assert.Equal(t, 10, cfg.Durable.Batch)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Setenv("DOCPIPE_STORE_DRIVER", "postgres")
	t.Setenv("DOCPIPE_DURABLE_CONCURRENCY", "0")
	t.Setenv("DOCPIPE_LOG_FORMAT", "xml")

	_, err := Load("")
	require.Error(t, err)
	for _, want := range []string{"store.dsn", "durable.concurrency", "log.format"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}
