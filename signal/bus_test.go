package signal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/runner"
)

func TestSubscribeRoutesByType(t *testing.T) {
	bus := NewBus()

	var completed []string
	var failed []string
	Subscribe(bus, func(_ context.Context, sig pipeline.ProcessingCompleted) error {
		completed = append(completed, sig.Job.ID)
		return nil
	})
	Subscribe(bus, func(_ context.Context, sig pipeline.ProcessingFailed) error {
		failed = append(failed, sig.Err.Error())
		return nil
	})

	var emitter pipeline.Emitter = bus
	emitter.Emit(context.Background(), pipeline.ProcessingCompleted{Job: pipeline.DocumentJob{ID: "job-1"}})
	emitter.Emit(context.Background(), pipeline.ProcessingFailed{Err: errors.New("ocr down")})
	emitter.Emit(context.Background(), pipeline.StageCompleted{})

	assert.Equal(t, []string{"job-1"}, completed)
	assert.Equal(t, []string{"ocr down"}, failed)
}

func TestSubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	var seen []string
	sub := bus.SubscribeAll(func(_ context.Context, sig pipeline.Signal) error {
		seen = append(seen, sig.Type())
		return nil
	})
	typed := Subscribe(bus, func(context.Context, pipeline.StageCompleted) error {
		seen = append(seen, "typed")
		return nil
	})
	require.Equal(t, 2, bus.Len(pipeline.SignalStageCompleted))

	bus.Emit(context.Background(), pipeline.StageCompleted{})
	typed.Unsubscribe()
	bus.Emit(context.Background(), pipeline.StageCompleted{})
	sub.Unsubscribe()
	bus.Emit(context.Background(), pipeline.StageCompleted{})

	assert.Equal(t, []string{"typed", pipeline.SignalStageCompleted, pipeline.SignalStageCompleted}, seen)
	assert.Equal(t, 0, bus.Len(pipeline.SignalStageCompleted))
}

func TestFailingSubscribersAreIsolated(t *testing.T) {
	var out bytes.Buffer
	bus := NewBus(WithLogger(pipeline.NewFmtLogger(&out)))

	reached := false
	Subscribe(bus, func(context.Context, pipeline.ExecutionFailedSignal) error { return errors.New("webhook down") })
	Subscribe(bus, func(context.Context, pipeline.ExecutionFailedSignal) error { panic("subscriber exploded") })
	Subscribe(bus, func(context.Context, pipeline.ExecutionFailedSignal) error {
		reached = true
		return nil
	})

	bus.Emit(context.Background(), pipeline.ExecutionFailedSignal{})

	require.True(t, reached)
	logs := out.String()
	assert.True(t, strings.Contains(logs, "index=0 type=pipeline.execution_failed: webhook down"), logs)
	assert.True(t, strings.Contains(logs, "index=1 type=pipeline.execution_failed: panic: subscriber exploded"), logs)
}

func TestSubscriberRetries(t *testing.T) {
	bus := NewBus()

	calls := 0
	Subscribe(bus, func(context.Context, pipeline.TenantActivated) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, runner.WithMaxRetries(2))

	bus.Emit(context.Background(), pipeline.TenantActivated{Tenant: pipeline.Tenant{ID: "acme"}})
	assert.Equal(t, 3, calls)
}
