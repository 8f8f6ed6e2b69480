package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docpipe(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out, prometheus.NewRegistry())
	return out.String(), err
}

func TestTenantLifecycleCommands(t *testing.T) {
	t.Setenv("DOCPIPE_STORE_DATA_DIR", t.TempDir())
	t.Setenv("DOCPIPE_LOG_LEVEL", "error")

	out, err := docpipe(t, "tenant", "create", "acme", "--name", "Acme", "--domain", "acme.test")
	require.NoError(t, err)
	assert.Contains(t, out, "tenant acme provisioned (tenant_acme)")

	out, err = docpipe(t, "tenant", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "acme\tAcme\tacme.test")

	out, err = docpipe(t, "schema", "check", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready")

	out, err = docpipe(t, "schema", "repair", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "schema repaired")

	_, err = docpipe(t, "tenant", "create", "acme")
	assert.Error(t, err, "tenant ids are unique")
}

func TestUnknownTenantAndJob(t *testing.T) {
	t.Setenv("DOCPIPE_STORE_DATA_DIR", t.TempDir())
	t.Setenv("DOCPIPE_LOG_LEVEL", "error")

	_, err := docpipe(t, "schema", "check", "ghost")
	assert.Error(t, err)

	_, err = docpipe(t, "tenant", "create", "acme")
	require.NoError(t, err)
	_, err = docpipe(t, "jobs", "inspect", "acme", "missing-job")
	assert.Error(t, err)
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("DOCPIPE_STORE_DRIVER", "mysql")
	_, err := docpipe(t, "tenant", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestSubmitThenWorkerRunsJob(t *testing.T) {
	t.Setenv("DOCPIPE_STORE_DATA_DIR", t.TempDir())
	t.Setenv("DOCPIPE_DURABLE_DIR", t.TempDir())
	t.Setenv("DOCPIPE_LOG_LEVEL", "error")

	pipelineFile := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(pipelineFile, []byte("processors:\n  - id: meta\n    type: document_metadata\n  - id: done\n    type: noop\n"), 0o644))

	_, err := docpipe(t, "tenant", "create", "acme")
	require.NoError(t, err)

	out, err := docpipe(t, "jobs", "submit", "acme", "doc-1",
		"--pipeline", pipelineFile,
		"--filename", "invoice.pdf",
		"--mime-type", "application/pdf",
		"--size", "2048",
	)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, out)
	require.Equal(t, "job", fields[0], out)
	jobID := fields[1]

	out, err = docpipe(t, "jobs", "inspect", "acme", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "queued"`)

	out, err = docpipe(t, "worker", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "2 steps resumed")

	out, err = docpipe(t, "jobs", "inspect", "acme", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, `"step_index": 2`)
	assert.Contains(t, out, `"mime_type": "application/pdf"`)
	assert.NotContains(t, out, `"state": "queued"`)

	_, err = docpipe(t, "jobs", "submit", "acme", "doc-2", "--pipeline", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
