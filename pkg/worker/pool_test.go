package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/registry"
)

func TestPool_SpawnsConfiguredWorkers(t *testing.T) {
	f := newFixture(t)

	pool := NewPool("pool-1", f.log, f.engine, nil, Config{WorkerCount: 4}, testLogger())
	require.Len(t, pool.workers, 4)

	assert.Equal(t, "pool-1-0", pool.workers[0].id)
	assert.Equal(t, "pool-1-3", pool.workers[3].id)
}

func TestPool_ProcessesEventsAndDrainsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var handled atomic.Int64

	f.registerJob(t, func(context.Context, map[string]any, registry.CallContext) (map[string]any, error) {
		handled.Add(1)

		return nil, nil
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, f.log.Append(ctx, models.NewEvent("JobRequested", "t1", nil)))
	}

	pool := NewPool("pool-1", f.log, f.engine, []string{"JobRequested"}, Config{
		WorkerCount:  3,
		BatchSize:    5,
		BlockTimeout: 20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	done := make(chan error, 1)

	go func() {
		done <- pool.Start(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool {
		return handled.Load() == 20 && f.log.PendingCount() == 0
	})

	cancel()
	require.NoError(t, <-done)

	stats := pool.Statistics()
	assert.Equal(t, "pool-1", stats.WorkerID)
	assert.Equal(t, int64(20), stats.EventsProcessed)
	assert.Equal(t, int64(20), stats.EventsSucceeded)
}

func TestPool_HealthAggregation(t *testing.T) {
	f := newFixture(t)

	pool := NewPool("pool-1", f.log, f.engine, nil, Config{
		WorkerCount:         3,
		HealthCheckInterval: time.Hour,
	}, testLogger())

	assert.Equal(t, models.HealthStatusHealthy, pool.Health())

	// One degraded worker degrades the pool.
	pool.workers[0].health.Store(models.HealthStatusDegraded)
	assert.Equal(t, models.HealthStatusDegraded, pool.Health())

	// A majority of unhealthy workers makes the pool unhealthy.
	pool.workers[0].health.Store(models.HealthStatusUnhealthy)
	pool.workers[1].health.Store(models.HealthStatusUnhealthy)
	assert.Equal(t, models.HealthStatusUnhealthy, pool.Health())

	snapshots := pool.WorkerHealth()
	require.Len(t, snapshots, 3)
	assert.Equal(t, models.HealthStatusHealthy, snapshots[2].Status)
}

func TestPool_StartStopsCleanlyWithNoTraffic(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	pool := NewPool("pool-1", f.log, f.engine, []string{"JobRequested"}, Config{
		WorkerCount:  2,
		BlockTimeout: 20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	done := make(chan error, 1)

	go func() {
		done <- pool.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
