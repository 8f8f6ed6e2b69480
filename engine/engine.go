// Package engine runs campaign pipelines against documents. Every public
// operation runs inside a tenant scope: the tenant is activated on a
// per-call tenant.Context (or the one carried by ctx) and the previous
// tenant is restored when the operation returns.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/dependency"
	"github.com/goliatone/go-pipeline/hooks"
	"github.com/goliatone/go-pipeline/processor"
	"github.com/goliatone/go-pipeline/runner"
	"github.com/goliatone/go-pipeline/store"
	"github.com/goliatone/go-pipeline/tenant"
)

// Engine is safe for concurrent use. It holds no tenant state of its own.
type Engine struct {
	locator   tenant.Locator
	directory tenant.Directory
	provider  *processor.Provider
	hooks     *hooks.Manager
	emitter   pipeline.Emitter
	logger    pipeline.Logger
	now       func() time.Time
	newID     func() string
	stepOpts  []runner.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithDirectory resolves tenant ids to tenant records. Without it a tenant
// is addressed by id alone.
func WithDirectory(d tenant.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

func WithHooks(m *hooks.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.hooks = m
		}
	}
}

// WithEmitter receives every engine signal.
func WithEmitter(em pipeline.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

func WithLogger(l pipeline.Logger) Option {
	return func(e *Engine) {
		e.logger = pipeline.NormalizeLogger(l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithStepTimeout bounds each processor invocation. Zero means no limit.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.stepOpts = append(e.stepOpts, runner.WithTimeout(d))
	}
}

// New builds an engine over locator (usually a *connection.Manager) and
// provider.
func New(locator tenant.Locator, provider *processor.Provider, opts ...Option) *Engine {
	e := &Engine{
		locator:  locator,
		provider: provider,
		emitter:  pipeline.NopEmitter{},
		logger:   pipeline.NormalizeLogger(nil),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.provider == nil {
		e.provider = processor.NewProvider(nil, e.logger)
	}
	if e.hooks == nil {
		e.hooks = hooks.NewManager(e.logger)
	}
	return e
}

// NewContext returns a fresh tenant context wired to the engine's locator.
// Activations reach the processor provider and the engine emitter.
func (e *Engine) NewContext() *tenant.Context {
	return tenant.New(e.locator,
		tenant.WithLogger(e.logger),
		tenant.WithEmitter(pipeline.EmitterFunc(func(ctx context.Context, sig pipeline.Signal) {
			e.provider.Emit(ctx, sig)
			e.emitter.Emit(ctx, sig)
		})),
	)
}

// Tenant resolves a tenant id through the directory.
func (e *Engine) Tenant(ctx context.Context, tenantID string) (pipeline.Tenant, error) {
	if tenantID == "" {
		return pipeline.Tenant{}, pipeline.NewContextError("tenant id required", nil, nil)
	}
	if e.directory == nil {
		return pipeline.Tenant{ID: tenantID}, nil
	}
	t, err := e.directory.Lookup(ctx, tenantID)
	if err != nil {
		return pipeline.Tenant{}, pipeline.NewContextError(
			fmt.Sprintf("resolve tenant %q", tenantID),
			err,
			map[string]any{"tenant_id": tenantID},
		)
	}
	return t, nil
}

// session is the per-operation view of one active tenant.
type session struct {
	*Engine
	tc       *tenant.Context
	tenant   pipeline.Tenant
	repo     *store.Repository
	registry *processor.Registry
	resolver *dependency.Resolver
	logger   pipeline.Logger
}

// within activates tenantID for the duration of fn.
func (e *Engine) within(ctx context.Context, tenantID string, fn func(ctx context.Context, s *session) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := e.Tenant(ctx, tenantID)
	if err != nil {
		return err
	}
	tc, ok := tenant.FromContext(ctx)
	if !ok {
		tc = e.NewContext()
	}
	return tc.RunWith(ctx, t, func(ctx context.Context) error {
		if err := tc.Verify(t.ID); err != nil {
			return err
		}
		reg, err := e.provider.For(ctx, tc)
		if err != nil {
			return err
		}
		s := &session{
			Engine:   e,
			tc:       tc,
			tenant:   t,
			repo:     store.New(tc),
			registry: reg,
			resolver: dependency.NewResolver(reg),
			logger:   pipeline.WithFields(e.logger.WithContext(ctx), map[string]any{"tenant_id": t.ID}),
		}
		return fn(ctx, s)
	})
}

// Report is the diagnostic view of one job.
type Report struct {
	Job        pipeline.DocumentJob
	Document   pipeline.Document
	Executions []pipeline.ProcessorExecution
}

// Inspect returns a job with its document and full execution history.
func (e *Engine) Inspect(ctx context.Context, tenantID, jobID string) (Report, error) {
	var out Report
	err := e.within(ctx, tenantID, func(ctx context.Context, s *session) error {
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		doc, err := s.repo.GetDocument(ctx, job.DocumentID)
		if err != nil && !pipeline.IsNotFound(err) {
			return err
		}
		history, err := s.repo.ListExecutions(ctx, job.ID)
		if err != nil {
			return err
		}
		out = Report{Job: job, Document: doc, Executions: history}
		return nil
	})
	return out, err
}
