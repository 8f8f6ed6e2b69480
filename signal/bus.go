// Package signal delivers engine signals to subscribers registered at the
// application boundary. Delivery is synchronous and in subscription order; a
// failing or panicking subscriber is logged and never reaches the emitter.
package signal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/runner"
)

// Bus routes signals by Type() to their subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*entry
	all      []*entry
	logger   pipeline.Logger
	seq      atomic.Uint64
}

type entry struct {
	id     uint64
	runner *runner.Handler
	call   func(ctx context.Context, sig pipeline.Signal) error
}

// Option defines the functional option signature.
type Option func(*Bus)

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l pipeline.Logger) Option {
	return func(b *Bus) {
		b.logger = pipeline.NormalizeLogger(l)
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]*entry),
		logger:   pipeline.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers fn for signals of type T. Runner options add a
// timeout or retries around each delivery.
func Subscribe[T pipeline.Signal](b *Bus, fn func(ctx context.Context, sig T) error, opts ...runner.Option) Subscription {
	var zero T
	e := b.newEntry(func(ctx context.Context, sig pipeline.Signal) error {
		typed, ok := sig.(T)
		if !ok {
			return fmt.Errorf("signal %s delivered as %T", sig.Type(), sig)
		}
		return fn(ctx, typed)
	}, opts)

	msgType := zero.Type()
	b.mu.Lock()
	b.handlers[msgType] = append(b.handlers[msgType], e)
	b.mu.Unlock()

	return &subs{bus: b, msgType: msgType, id: e.id}
}

// SubscribeAll registers fn for every signal.
func (b *Bus) SubscribeAll(fn func(ctx context.Context, sig pipeline.Signal) error, opts ...runner.Option) Subscription {
	e := b.newEntry(fn, opts)
	b.mu.Lock()
	b.all = append(b.all, e)
	b.mu.Unlock()
	return &subs{bus: b, id: e.id, all: true}
}

func (b *Bus) newEntry(fn func(context.Context, pipeline.Signal) error, opts []runner.Option) *entry {
	opts = append([]runner.Option{runner.WithLogger(b.logger), runner.WithErrorHandler(nil)}, opts...)
	return &entry{
		id:     b.seq.Add(1),
		runner: runner.NewHandler(opts...),
		call:   fn,
	}
}

// Emit implements pipeline.Emitter.
func (b *Bus) Emit(ctx context.Context, sig pipeline.Signal) {
	if b == nil || sig == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.RLock()
	targets := make([]*entry, 0, len(b.handlers[sig.Type()])+len(b.all))
	targets = append(targets, b.handlers[sig.Type()]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for idx, e := range targets {
		err := e.runner.Run(ctx, func(ctx context.Context) error {
			return e.call(ctx, sig)
		})
		if err != nil {
			b.logger.WithContext(ctx).Warn("signal subscriber failed at index=%d type=%s: %v", idx, sig.Type(), err)
		}
	}
}

// Len returns the number of subscribers that would receive msgType.
func (b *Bus) Len(msgType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[msgType]) + len(b.all)
}
