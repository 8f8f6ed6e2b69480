// Package runner wraps a unit of work with a timeout, a deadline and a
// retry policy.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

type Option func(*Handler)

func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(r *Handler) {
		r.deadline = d
	}
}

func WithMaxRetries(max int) Option {
	return func(r *Handler) {
		if max < 0 {
			max = 0
		}
		r.maxRetries = max
	}
}

func WithErrorHandler(h func(error)) Option {
	return func(r *Handler) {
		if h == nil {
			h = func(err error) {}
		}
		r.errorHandler = h
	}
}

func WithLogger(l pipeline.Logger) Option {
	return func(r *Handler) {
		r.logger = pipeline.NormalizeLogger(l)
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		r.retryStrategy = s
	}
}

// WithRetryIf limits retries to errors accepted by fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Handler) {
		r.retryIf = fn
	}
}

type Handler struct {
	mu sync.Mutex

	logger        pipeline.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy
	retryIf       func(error) bool

	runs           int
	successfulRuns int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		logger:        pipeline.NormalizeLogger(nil),
		retryStrategy: NoDelayStrategy{},
	}
	r.errorHandler = func(err error) {
		r.logger.Warn("runner error: %v", err)
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run calls fn until it succeeds or the retry budget is spent and returns
// the last error. A panic in fn counts as a failed attempt.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	retryIf := h.retryIf
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = pipeline.SafeCall(func() error { return fn(ctx) })
		if err == nil {
			break
		}
		if attempt == maxRetries || ctx.Err() != nil {
			break
		}
		if retryIf != nil && !retryIf(err) {
			break
		}

		h.errorHandler(fmt.Errorf("attempt %d of %d failed: %w", attempt+1, maxRetries+1, err))

		if strategy != nil {
			if delay := strategy.SleepDuration(attempt, err); delay > 0 {
				if serr := sleep(ctx, delay); serr != nil {
					break
				}
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++
	if err == nil {
		h.successfulRuns++
	}
	return err
}

// Runs returns the total and successful run counts.
func (h *Handler) Runs() (total, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
