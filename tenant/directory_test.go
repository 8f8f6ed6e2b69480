package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/goliatone/go-pipeline"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(pipeline.Tenant{ID: "b"}, pipeline.Tenant{ID: "a"})

	got, err := d.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = d.Lookup(ctx, "zzz")
	assert.True(t, pipeline.IsNotFound(err))

	list, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	d.Remove("a")
	_, err = d.Lookup(ctx, "a")
	assert.True(t, pipeline.IsNotFound(err))
}

func TestSQLDirectory(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	h, err := m.Shared(ctx, "landlord")
	require.NoError(t, err)

	d, err := NewSQLDirectory(ctx, h)
	require.NoError(t, err)

	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, d.Register(ctx, pipeline.Tenant{ID: "acme", Name: "Acme", Domain: "acme.test", CreatedAt: created}))
	require.NoError(t, d.Register(ctx, pipeline.Tenant{ID: "beta", Name: "Beta"}))
	require.Error(t, d.Register(ctx, pipeline.Tenant{ID: "acme"}), "ids are unique")

	got, err := d.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "acme.test", got.Domain)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = d.Lookup(ctx, "nobody")
	assert.True(t, pipeline.IsNotFound(err))

	list, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "beta", list[1].ID)

	// directory reopened on the same store sees the rows
	again, err := NewSQLDirectory(ctx, h)
	require.NoError(t, err)
	_, err = again.Lookup(ctx, "beta")
	require.NoError(t, err)
}
