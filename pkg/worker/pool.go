package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/flow"
	"github.com/loomery/loom/pkg/models"
)

// Pool runs N independent workers over a shared log and engine, plus the
// periodic health and metrics reporting for the process.
type Pool struct {
	id         string
	log        eventlog.Log
	engine     *flow.Engine
	config     Config
	eventTypes []string
	logger     *slog.Logger
	workers    []*Worker
}

func NewPool(id string, log eventlog.Log, engine *flow.Engine, eventTypes []string, config Config, logger *slog.Logger) *Pool {
	config = config.withDefaults()

	pool := &Pool{
		id:         id,
		log:        log,
		engine:     engine,
		config:     config,
		eventTypes: eventTypes,
		logger:     logger.With("module", "worker_pool", "pool_id", id),
	}

	for i := 0; i < config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", id, i)
		pool.workers = append(pool.workers, NewWorker(workerID, log, engine, config, logger))
	}

	return pool
}

// Start runs the pool until the context is cancelled, then drains all
// workers and returns. In-flight dispatches finish; no new batches are
// read.
func (p *Pool) Start(ctx context.Context) error {
	for _, eventType := range p.eventTypes {
		if err := p.log.EnsureGroup(ctx, eventType); err != nil {
			return fmt.Errorf("failed to prepare stream for %s: %w", eventType, err)
		}
	}

	p.logger.InfoContext(ctx, "Starting worker pool",
		"workers", len(p.workers),
		"event_types", len(p.eventTypes),
		"batch_size", p.config.BatchSize,
		"concurrency_limit", p.config.ConcurrencyLimit,
	)

	var wg sync.WaitGroup

	for _, w := range p.workers {
		wg.Add(2)

		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)

		go func(w *Worker) {
			defer wg.Done()
			w.heartbeat(ctx)
		}(w)
	}

	wg.Add(1)

	go func() {
		defer wg.Done()
		p.reportLoop(ctx)
	}()

	wg.Wait()
	p.logger.Info("Worker pool stopped")

	return nil
}

func (p *Pool) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.Statistics()
			healthy, total := p.healthyCount()

			p.logger.Info("Worker pool status",
				"health", string(p.Health()),
				"workers_healthy", fmt.Sprintf("%d/%d", healthy, total),
				"events_processed", stats.EventsProcessed,
				"events_succeeded", stats.EventsSucceeded,
				"events_failed", stats.EventsFailed,
				"active_events", stats.ActiveEventCount,
			)
		}
	}
}

func (p *Pool) healthyCount() (int, int) {
	healthy := 0

	for _, w := range p.workers {
		if w.Health().Status == models.HealthStatusHealthy {
			healthy++
		}
	}

	return healthy, len(p.workers)
}

// Health aggregates worker health: unhealthy if a majority of workers are
// unhealthy, degraded if any worker is not healthy.
func (p *Pool) Health() models.HealthStatus {
	healthy, total := p.healthyCount()

	unhealthy := 0
	for _, w := range p.workers {
		if w.Health().Status == models.HealthStatusUnhealthy {
			unhealthy++
		}
	}

	switch {
	case total > 0 && unhealthy*2 > total:
		return models.HealthStatusUnhealthy
	case healthy < total:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusHealthy
	}
}

// WorkerHealth returns per-worker health snapshots.
func (p *Pool) WorkerHealth() []models.WorkerHealth {
	snapshots := make([]models.WorkerHealth, 0, len(p.workers))
	for _, w := range p.workers {
		snapshots = append(snapshots, w.Health())
	}

	return snapshots
}

// Statistics aggregates the counters of all workers.
func (p *Pool) Statistics() models.WorkerStatistics {
	total := models.WorkerStatistics{WorkerID: p.id}

	for _, w := range p.workers {
		stats := w.Statistics()
		total.EventsProcessed += stats.EventsProcessed
		total.EventsSucceeded += stats.EventsSucceeded
		total.EventsFailed += stats.EventsFailed
		total.ActiveEventCount += stats.ActiveEventCount
	}

	return total
}
