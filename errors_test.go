package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorPredicates(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"context", NewContextError("no tenant", nil, nil), IsContextError, ErrCodeContext},
		{"configuration", NewConfigurationError("bad", nil), IsConfigurationError, ErrCodeConfiguration},
		{"unknown", NewUnknownProcessorError("ocr"), IsUnknownProcessor, ErrCodeUnknownProcessor},
		{"cycle", NewCycleError([]string{"a", "b", "a"}), IsCycleError, ErrCodeCycle},
		{"dependency", NewDependencyError("classify", []string{"ocr"}), IsDependencyError, ErrCodeDependency},
		{"transition", NewTransitionError("document", "completed", "queued"), IsTransitionError, ErrCodeTransition},
		{"execution", NewProcessorExecutionError("ocr", "s1", errors.New("engine down")), IsProcessorExecutionError, ErrCodeProcessorExecution},
		{"resume", NewResumeError("gone", nil, nil), IsResumeError, ErrCodeResume},
		{"not found", NewNotFoundError("job", "j1"), IsNotFound, ErrCodeNotFound},
		{"stale", NewStaleStateError("document job", "j1", "running", "cancelled"), IsStaleState, ErrCodeStaleState},
	}
	for _, tc := range cases {
		if !tc.check(tc.err) {
			t.Fatalf("%s: predicate did not match %v", tc.name, tc.err)
		}
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !tc.check(wrapped) {
			t.Fatalf("%s: predicate did not match through wrapping", tc.name)
		}
		if got := ErrorCode(wrapped); got != tc.code {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.code, got)
		}
	}
}

func TestConfigurationSubclasses(t *testing.T) {
	if !IsConfigurationError(NewUnknownProcessorError("x")) {
		t.Fatalf("unknown processor must be a configuration error")
	}
	if !IsConfigurationError(NewCycleError([]string{"a", "a"})) {
		t.Fatalf("cycle must be a configuration error")
	}
	if IsConfigurationError(NewDependencyError("a", []string{"b"})) {
		t.Fatalf("dependency error is not a configuration error")
	}
	if IsConfigurationError(nil) || ErrorCode(nil) != "" {
		t.Fatalf("nil error matches nothing")
	}
}

func TestCloneDoesNotMutateSentinel(t *testing.T) {
	_ = NewContextError("tenant acme missing", nil, map[string]any{"tenant_id": "acme"})
	if ErrContext.Message != "tenant context unavailable" {
		t.Fatalf("sentinel message changed: %q", ErrContext.Message)
	}
}

func TestSourceChainIsWalked(t *testing.T) {
	inner := NewNotFoundError("job", "j1")
	outer := NewResumeError("resume job j1", inner, nil)
	if !IsResumeError(outer) || !IsNotFound(outer) {
		t.Fatalf("expected both codes in chain, got %v", outer)
	}
	if ErrorCode(outer) != ErrCodeResume {
		t.Fatalf("expected outermost code first, got %s", ErrorCode(outer))
	}

	joined := errors.Join(errors.New("plain"), NewDependencyError("a", []string{"b"}))
	if !IsDependencyError(joined) {
		t.Fatalf("expected joined errors to be inspected")
	}
}

func TestProcessorExecutionKeepsMessage(t *testing.T) {
	src := errors.New("ocr engine unavailable")
	err := NewProcessorExecutionError("ocr", "s1", src)
	if err.Source != src {
		t.Fatalf("expected source to be kept")
	}
	if got := err.Message; got != `processor "ocr" failed at step "s1": ocr engine unavailable` {
		t.Fatalf("unexpected message %q", got)
	}
}
