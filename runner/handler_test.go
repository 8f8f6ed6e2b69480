package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
)

type countingFunc struct {
	calls     int
	failUntil int
}

func (c *countingFunc) fn(ctx context.Context) error {
	c.calls++
	if c.calls <= c.failUntil {
		return errors.New("simulated failure")
	}
	return nil
}

func TestHandler_NoError_NoRetries(t *testing.T) {
	h := NewHandler()

	cf := countingFunc{}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cf.calls != 1 {
		t.Errorf("expected calls=1, got %d", cf.calls)
	}
	if total, ok := h.Runs(); total != 1 || ok != 1 {
		t.Errorf("expected 1/1 runs, got %d/%d", total, ok)
	}
}

func TestHandler_SuccessOnSecondAttempt(t *testing.T) {
	var reported []error
	h := NewHandler(WithMaxRetries(3), WithErrorHandler(func(err error) { reported = append(reported, err) }))

	cf := countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if len(reported) != 1 {
		t.Errorf("expected one reported attempt, got %d", len(reported))
	}
}

func TestHandler_AllAttemptsFail(t *testing.T) {
	h := NewHandler(WithMaxRetries(2), WithErrorHandler(nil))

	cf := countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)
	if err == nil || err.Error() != "simulated failure" {
		t.Fatalf("expected last error, got %v", err)
	}
	if cf.calls != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.calls)
	}
	if total, ok := h.Runs(); total != 1 || ok != 0 {
		t.Errorf("expected 1/0 runs, got %d/%d", total, ok)
	}
}

func TestHandler_RetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	h := NewHandler(WithMaxRetries(5), WithErrorHandler(nil), WithRetryIf(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one call with permanent error, got %d (%v)", calls, err)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := NewHandler(WithTimeout(20 * time.Millisecond))

	err := h.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHandler_RecoversPanic(t *testing.T) {
	h := NewHandler(WithMaxRetries(1), WithErrorHandler(nil))

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		panic("boom")
	})
	var pe *pipeline.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected panic error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected panic to be retried once, got %d calls", calls)
	}
}
