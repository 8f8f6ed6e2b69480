// Package hooks runs ordered observers around each step execution. A hook
// failure, error or panic, is logged and never reaches the step.
package hooks

import (
	"context"
	"sync"

	pipeline "github.com/goliatone/go-pipeline"
)

// Hook observes step executions. Hooks never drive state.
type Hook interface {
	Before(ctx context.Context, exec pipeline.ProcessorExecution) error
	After(ctx context.Context, exec pipeline.ProcessorExecution, output map[string]any) error
	OnFailure(ctx context.Context, exec pipeline.ProcessorExecution, err error) error
}

// Funcs adapts optional functions to Hook.
type Funcs struct {
	BeforeFunc    func(ctx context.Context, exec pipeline.ProcessorExecution) error
	AfterFunc     func(ctx context.Context, exec pipeline.ProcessorExecution, output map[string]any) error
	OnFailureFunc func(ctx context.Context, exec pipeline.ProcessorExecution, err error) error
}

func (f Funcs) Before(ctx context.Context, exec pipeline.ProcessorExecution) error {
	if f.BeforeFunc == nil {
		return nil
	}
	return f.BeforeFunc(ctx, exec)
}

func (f Funcs) After(ctx context.Context, exec pipeline.ProcessorExecution, output map[string]any) error {
	if f.AfterFunc == nil {
		return nil
	}
	return f.AfterFunc(ctx, exec, output)
}

func (f Funcs) OnFailure(ctx context.Context, exec pipeline.ProcessorExecution, err error) error {
	if f.OnFailureFunc == nil {
		return nil
	}
	return f.OnFailureFunc(ctx, exec, err)
}

// Manager invokes registered hooks in registration order.
type Manager struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger pipeline.Logger
}

func NewManager(logger pipeline.Logger, hooks ...Hook) *Manager {
	m := &Manager{logger: pipeline.NormalizeLogger(logger)}
	for _, h := range hooks {
		m.Register(h)
	}
	return m
}

// Register appends a hook.
func (m *Manager) Register(h Hook) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

// Len returns the number of registered hooks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks)
}

func (m *Manager) Before(ctx context.Context, exec pipeline.ProcessorExecution) {
	m.fanout(ctx, "before", exec, func(h Hook) error { return h.Before(ctx, exec) })
}

func (m *Manager) After(ctx context.Context, exec pipeline.ProcessorExecution, output map[string]any) {
	m.fanout(ctx, "after", exec, func(h Hook) error { return h.After(ctx, exec, output) })
}

func (m *Manager) OnFailure(ctx context.Context, exec pipeline.ProcessorExecution, cause error) {
	m.fanout(ctx, "on_failure", exec, func(h Hook) error { return h.OnFailure(ctx, exec, cause) })
}

func (m *Manager) fanout(ctx context.Context, phase string, exec pipeline.ProcessorExecution, call func(Hook) error) {
	if m == nil {
		return
	}
	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	logger := pipeline.WithFields(m.logger.WithContext(ctx), map[string]any{
		"phase":        phase,
		"job_id":       exec.JobID,
		"step_id":      exec.StepID,
		"processor":    exec.ProcessorSlug,
		"execution_id": exec.ID,
	})
	for idx, h := range hooks {
		if err := pipeline.SafeCall(func() error { return call(h) }); err != nil {
			logger.Warn("hook failed at index=%d: %v", idx, err)
		}
	}
}
