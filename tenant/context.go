// Package tenant holds the per-execution tenant context: which tenant store
// every tenant-scoped read and write targets. One Context belongs to one
// worker or job; it is never shared between concurrently running jobs.
package tenant

import (
	"context"
	"fmt"
	"sync"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/connection"
)

// Locator resolves a tenant to its open store. *connection.Manager
// implements it.
type Locator interface {
	Locate(ctx context.Context, tenant pipeline.Tenant) (*connection.Handle, error)
}

// Context is the active tenant switch.
type Context struct {
	locator Locator
	emitter pipeline.Emitter
	logger  pipeline.Logger

	mu     sync.RWMutex
	tenant *pipeline.Tenant
	handle *connection.Handle
}

// Option configures a Context.
type Option func(*Context)

// WithEmitter receives a TenantActivated signal on every activation.
func WithEmitter(emitter pipeline.Emitter) Option {
	return func(c *Context) {
		if emitter != nil {
			c.emitter = emitter
		}
	}
}

func WithLogger(logger pipeline.Logger) Option {
	return func(c *Context) {
		c.logger = pipeline.NormalizeLogger(logger)
	}
}

// New returns a Context with no active tenant.
func New(locator Locator, opts ...Option) *Context {
	c := &Context{
		locator: locator,
		emitter: pipeline.NopEmitter{},
		logger:  pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Activate makes the tenant store the target of every following operation.
// On failure the previously active tenant stays active.
func (c *Context) Activate(ctx context.Context, tenant pipeline.Tenant) error {
	if c == nil || c.locator == nil {
		return pipeline.NewContextError("tenant context not configured", nil, nil)
	}
	handle, err := c.locator.Locate(ctx, tenant)
	if err != nil {
		if pipeline.IsContextError(err) {
			return err
		}
		return pipeline.NewContextError(
			fmt.Sprintf("activate tenant %q", tenant.ID),
			err,
			map[string]any{"tenant_id": tenant.ID},
		)
	}

	c.mu.Lock()
	t := tenant
	c.tenant = &t
	c.handle = handle
	c.mu.Unlock()

	c.logger.Debug("tenant %s activated (store %s)", tenant.ID, handle.Name)
	c.emitter.Emit(ctx, pipeline.TenantActivated{Tenant: tenant})
	return nil
}

// Current returns the active tenant.
func (c *Context) Current() (pipeline.Tenant, bool) {
	if c == nil {
		return pipeline.Tenant{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tenant == nil {
		return pipeline.Tenant{}, false
	}
	return *c.tenant, true
}

// Deactivate clears the active tenant. Store calls fail until the next
// activation.
func (c *Context) Deactivate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tenant = nil
	c.handle = nil
	c.mu.Unlock()
}

// Store returns the active tenant store, or a ContextError when no tenant
// is active.
func (c *Context) Store() (*connection.Handle, error) {
	if c == nil {
		return nil, pipeline.NewContextError("no tenant context", nil, nil)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handle == nil {
		return nil, pipeline.NewContextError("no tenant is active", nil, nil)
	}
	return c.handle, nil
}

// Verify returns a ContextError unless tenantID is the active tenant.
func (c *Context) Verify(tenantID string) error {
	current, ok := c.Current()
	if !ok {
		return pipeline.NewContextError(
			fmt.Sprintf("tenant %q is not active: no tenant is active", tenantID),
			nil,
			map[string]any{"tenant_id": tenantID},
		)
	}
	if current.ID != tenantID {
		return pipeline.NewContextError(
			fmt.Sprintf("tenant %q is not active: %q is", tenantID, current.ID),
			nil,
			map[string]any{"tenant_id": tenantID, "active_tenant_id": current.ID},
		)
	}
	return nil
}

// Scope activates tenant and returns a release func restoring exactly what
// was active before, including "nothing". Release must be deferred.
func (c *Context) Scope(ctx context.Context, tenant pipeline.Tenant) (release func(), err error) {
	if c == nil {
		return func() {}, pipeline.NewContextError("no tenant context", nil, nil)
	}
	c.mu.RLock()
	prevTenant, prevHandle := c.tenant, c.handle
	c.mu.RUnlock()

	if err := c.Activate(ctx, tenant); err != nil {
		return func() {}, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.tenant, c.handle = prevTenant, prevHandle
			c.mu.Unlock()
		})
	}, nil
}

// RunWith runs fn with tenant active and restores the previous tenant on
// every exit path, panics included. fn receives ctx carrying this Context.
func (c *Context) RunWith(ctx context.Context, tenant pipeline.Tenant, fn func(ctx context.Context) error) error {
	release, err := c.Scope(ctx, tenant)
	if err != nil {
		return err
	}
	defer release()
	return fn(WithContext(ctx, c))
}

type ctxKey struct{}

// WithContext stores the tenant context in ctx.
func WithContext(ctx context.Context, c *Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the tenant context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok && c != nil
}
