package processor

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/store"
	"github.com/goliatone/go-pipeline/tenant"
)

// Provider builds one Registry per tenant activation and caches it until
// that tenant is activated again.
type Provider struct {
	factory *Factory
	logger  pipeline.Logger

	mu         sync.Mutex
	registries map[string]*Registry
	loads      singleflight.Group
}

func NewProvider(factory *Factory, logger pipeline.Logger) *Provider {
	if factory == nil {
		factory = NewFactory()
	}
	return &Provider{
		factory:    factory,
		logger:     pipeline.NormalizeLogger(logger),
		registries: make(map[string]*Registry),
	}
}

func (p *Provider) Factory() *Factory { return p.factory }

// For returns the registry of the tenant active in tc, loading it from the
// tenant processor catalog on first use. No active tenant is a
// ContextError.
func (p *Provider) For(ctx context.Context, tc *tenant.Context) (*Registry, error) {
	current, ok := tc.Current()
	if !ok {
		return nil, pipeline.NewContextError("processor registry requires an active tenant", nil, nil)
	}

	if reg, ok := p.cached(current.ID); ok {
		return reg, nil
	}
	// the catalog read runs outside mu; concurrent loads of one tenant share
	// a single read
	v, err, _ := p.loads.Do(current.ID, func() (any, error) {
		if reg, ok := p.cached(current.ID); ok {
			return reg, nil
		}
		reg := NewRegistry()
		if err := reg.LoadFromStore(ctx, store.New(tc), p.factory, p.logger); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.registries[current.ID] = reg
		p.mu.Unlock()
		p.logger.Debug("processor registry loaded for tenant %s: %v", current.ID, reg.Slugs())
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Registry), nil
}

func (p *Provider) cached(tenantID string) (*Registry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.registries[tenantID]
	return reg, ok
}

// Invalidate drops the cached registry of a tenant.
func (p *Provider) Invalidate(tenantID string) {
	p.mu.Lock()
	delete(p.registries, tenantID)
	p.mu.Unlock()
}

// Emit drops the cached registry when its tenant is activated, so the
// registry is rebuilt per activation.
func (p *Provider) Emit(_ context.Context, sig pipeline.Signal) {
	if act, ok := sig.(pipeline.TenantActivated); ok {
		p.Invalidate(act.Tenant.ID)
	}
}
