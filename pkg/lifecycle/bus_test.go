package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not reached within timeout")
}

func TestBus_PublishReachesHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(testLogger())
	defer bus.Close()

	var received atomic.Value

	bus.Handle(ExecutionStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*ExecutionStarted)
		if ok {
			received.Store(started)
		}

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, ExecutionStarted{
		BaseEvent:    NewBaseEvent(ExecutionStartedEvent, "t1", "exec-1", "onboarding"),
		TriggerEvent: "CustomerCreated",
	}))

	waitFor(t, 2*time.Second, func() bool { return received.Load() != nil })

	started := received.Load().(*ExecutionStarted)
	assert.Equal(t, "t1", started.Tenant)
	assert.Equal(t, "exec-1", started.ExecutionID)
	assert.Equal(t, "CustomerCreated", started.TriggerEvent)
}

func TestBus_UnhandledEventTypesAreDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(testLogger())
	defer bus.Close()

	var completed atomic.Int64

	bus.Handle(ExecutionCompletedEvent, func(context.Context, any) error {
		completed.Add(1)

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for failures; the bus must keep flowing.
	require.NoError(t, bus.Publish(ctx, ExecutionFailed{
		BaseEvent: NewBaseEvent(ExecutionFailedEvent, "t1", "exec-1", "onboarding"),
		Error:     "boom",
	}))
	require.NoError(t, bus.Publish(ctx, ExecutionCompleted{
		BaseEvent: NewBaseEvent(ExecutionCompletedEvent, "t1", "exec-2", "onboarding"),
	}))

	waitFor(t, 2*time.Second, func() bool { return completed.Load() == 1 })
}
