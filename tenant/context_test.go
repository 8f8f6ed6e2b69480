package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/connection"
)

func newManager(t *testing.T, ids ...string) *connection.Manager {
	t.Helper()
	m := connection.NewManager(connection.NewSQLiteDriver(t.TempDir()))
	t.Cleanup(func() { _ = m.Close() })
	for _, id := range ids {
		_, err := m.Provision(context.Background(), pipeline.Tenant{ID: id})
		require.NoError(t, err)
	}
	return m
}

func activeID(c *Context) string {
	t, ok := c.Current()
	if !ok {
		return ""
	}
	return t.ID
}

func TestActivateDeactivate(t *testing.T) {
	ctx := context.Background()
	var seen []string
	c := New(newManager(t, "a"), WithEmitter(pipeline.EmitterFunc(func(_ context.Context, sig pipeline.Signal) {
		if act, ok := sig.(pipeline.TenantActivated); ok {
			seen = append(seen, act.Tenant.ID)
		}
	})))

	_, err := c.Store()
	require.Error(t, err)
	assert.True(t, pipeline.IsContextError(err), "no active tenant must fail fast")

	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "a"}))
	assert.Equal(t, "a", activeID(c))
	h, err := c.Store()
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", h.Name)
	assert.Equal(t, []string{"a"}, seen)

	require.NoError(t, c.Verify("a"))
	assert.True(t, pipeline.IsContextError(c.Verify("b")))

	c.Deactivate()
	_, ok := c.Current()
	assert.False(t, ok)
	_, err = c.Store()
	assert.True(t, pipeline.IsContextError(err))
	assert.True(t, pipeline.IsContextError(c.Verify("a")))
}

func TestActivateUnknownStoreKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	c := New(newManager(t, "a"))
	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "a"}))

	err := c.Activate(ctx, pipeline.Tenant{ID: "missing"})
	require.Error(t, err)
	assert.True(t, pipeline.IsContextError(err))
	assert.Equal(t, "a", activeID(c))
}

func TestRunWithRestoresPreviousTenant(t *testing.T) {
	ctx := context.Background()
	c := New(newManager(t, "a", "b", "c"))
	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "a"}))

	err := c.RunWith(ctx, pipeline.Tenant{ID: "b"}, func(ctx context.Context) error {
		assert.Equal(t, "b", activeID(c))
		carried, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, c, carried)

		// nested scope, as a hook doing tenant work inside a step would
		return c.RunWith(ctx, pipeline.Tenant{ID: "c"}, func(context.Context) error {
			assert.Equal(t, "c", activeID(c))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "a", activeID(c))

	h, err := c.Store()
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", h.Name)
}

func TestRunWithRestoresOnErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	c := New(newManager(t, "a", "b"))
	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "a"}))

	boom := errors.New("boom")
	err := c.RunWith(ctx, pipeline.Tenant{ID: "b"}, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "a", activeID(c))

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = c.RunWith(ctx, pipeline.Tenant{ID: "b"}, func(context.Context) error {
			panic("processor exploded")
		})
	}()
	assert.Equal(t, "a", activeID(c))
}

func TestRunWithRestoresNoTenant(t *testing.T) {
	ctx := context.Background()
	c := New(newManager(t, "a"))

	require.NoError(t, c.RunWith(ctx, pipeline.Tenant{ID: "a"}, func(context.Context) error {
		assert.Equal(t, "a", activeID(c))
		return nil
	}))
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestRunWithActivationFailureDoesNotRunFn(t *testing.T) {
	c := New(newManager(t))
	called := false
	err := c.RunWith(context.Background(), pipeline.Tenant{ID: "ghost"}, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, pipeline.IsContextError(err))
	assert.False(t, called)
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestScopeReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := New(newManager(t, "a", "b"))
	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "a"}))

	release, err := c.Scope(ctx, pipeline.Tenant{ID: "b"})
	require.NoError(t, err)
	release()
	require.NoError(t, c.Activate(ctx, pipeline.Tenant{ID: "b"}))
	release()
	assert.Equal(t, "b", activeID(c), "a second release must not restore again")
}
