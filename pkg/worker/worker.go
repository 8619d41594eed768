package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/flow"
	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/otelhelper"
)

// Worker is one independent poller. It reads batches from the durable log,
// dispatches each message into the runtime under its concurrency limit and
// acknowledges messages whose processing finished, successfully or not.
type Worker struct {
	id     string
	log    eventlog.Log
	engine *flow.Engine
	config Config
	logger *slog.Logger
	tracer trace.Tracer

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	eventsProcessed atomic.Int64
	eventsSucceeded atomic.Int64
	eventsFailed    atomic.Int64
	activeEvents    atomic.Int64

	lastHeartbeat atomic.Int64
	health        atomic.Value // models.HealthStatus

	// Counter snapshots from the previous heartbeat, for the recent error
	// rate. Only the heartbeat goroutine touches these.
	prevProcessed int64
	prevFailed    int64

	lastReclaim time.Time
}

func NewWorker(id string, log eventlog.Log, engine *flow.Engine, config Config, logger *slog.Logger) *Worker {
	w := &Worker{
		id:     id,
		log:    log,
		engine: engine,
		config: config.withDefaults(),
		logger: logger.With("module", "worker", "worker_id", id),
		tracer: otel.Tracer("loom/worker"),
		sem:    semaphore.NewWeighted(config.withDefaults().ConcurrencyLimit),
	}

	w.health.Store(models.HealthStatusHealthy)
	w.lastHeartbeat.Store(time.Now().UnixMilli())

	return w
}

// Run polls until the context is cancelled, then drains in-flight
// dispatches before returning.
func (w *Worker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "Worker started")

	for {
		if ctx.Err() != nil {
			break
		}

		messages, err := w.log.Read(ctx, w.id, w.config.BatchSize, w.config.BlockTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, eventlog.ErrClosed) {
				break
			}

			w.logger.ErrorContext(ctx, "Failed to read from event log", "error", err)
			sleepCtx(ctx, w.config.PollInterval)

			continue
		}

		messages = append(messages, w.reclaimDue(ctx)...)

		if len(messages) == 0 {
			continue
		}

		for _, message := range messages {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				break
			}

			w.wg.Add(1)

			// Cancellation stops intake only; a claimed message finishes
			// its advance and acks even during shutdown.
			go w.process(context.WithoutCancel(ctx), message)
		}
	}

	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// reclaimDue periodically claims messages abandoned past the claim timeout
// so a crashed peer's in-flight work is picked up.
func (w *Worker) reclaimDue(ctx context.Context) []eventlog.Message {
	if time.Since(w.lastReclaim) < w.config.ClaimTimeout {
		return nil
	}

	w.lastReclaim = time.Now()

	reclaimed, err := w.log.Reclaim(ctx, w.id, w.config.ClaimTimeout, w.config.BatchSize)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to reclaim idle messages", "error", err)

		return nil
	}

	if len(reclaimed) > 0 {
		w.logger.InfoContext(ctx, "Reclaimed idle messages", "count", len(reclaimed))
	}

	return reclaimed
}

func (w *Worker) process(ctx context.Context, message eventlog.Message) {
	defer w.wg.Done()
	defer w.sem.Release(1)

	w.activeEvents.Add(1)
	defer w.activeEvents.Add(-1)

	w.eventsProcessed.Add(1)

	event := message.Event
	logger := w.logger.With("event_type", event.Type, "event_id", event.ID, "tenant", event.Tenant)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "event.process",
		attribute.String(otelhelper.TenantKey, event.Tenant),
		attribute.String(otelhelper.EventTypeKey, event.Type),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	matched, err := w.handleWithRetry(ctx, logger, event)
	if err != nil {
		w.eventsFailed.Add(1)

		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Event processing failed after retries", "error", err)

		if markErr := w.engine.MarkEventFailed(ctx, event, err); markErr != nil {
			logger.ErrorContext(ctx, "Failed to mark executions failed", "error", markErr)
		}
	} else {
		w.eventsSucceeded.Add(1)

		if !matched {
			logger.DebugContext(ctx, "No subscriber for event, dropping")
		}
	}

	// Acknowledged in both outcomes: a poisoned message must not block the
	// stream forever.
	if ackErr := w.log.Ack(ctx, message.Stream, message.ID); ackErr != nil {
		logger.ErrorContext(ctx, "Failed to acknowledge message", "error", ackErr)
	}
}

func (w *Worker) handleWithRetry(ctx context.Context, logger *slog.Logger, event *models.Event) (bool, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.config.RetryInitialBackoff
	policy.MaxInterval = w.config.RetryMaxBackoff

	var (
		matched bool
		err     error
	)

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.WarnContext(ctx, "Retrying event processing", "attempt", attempt, "error", err)
			sleepCtx(ctx, policy.NextBackOff())
		}

		matched, err = w.engine.HandleEvent(ctx, event)
		if err == nil {
			return matched, nil
		}

		if ctx.Err() != nil {
			return matched, err
		}
	}

	return matched, err
}

// heartbeat recomputes health from heartbeat recency and the error rate
// since the previous beat.
func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat()
		}
	}
}

func (w *Worker) beat() {
	processed := w.eventsProcessed.Load()
	failed := w.eventsFailed.Load()

	deltaProcessed := processed - w.prevProcessed
	deltaFailed := failed - w.prevFailed
	w.prevProcessed = processed
	w.prevFailed = failed

	status := models.HealthStatusHealthy

	if deltaProcessed > 0 {
		errorRate := float64(deltaFailed) / float64(deltaProcessed)

		switch {
		case errorRate >= 0.5:
			status = models.HealthStatusUnhealthy
		case errorRate >= 0.1:
			status = models.HealthStatusDegraded
		}
	}

	w.health.Store(status)
	w.lastHeartbeat.Store(time.Now().UnixMilli())
}

// Health returns the worker's current health snapshot. A stale heartbeat
// overrides the computed status.
func (w *Worker) Health() models.WorkerHealth {
	status, _ := w.health.Load().(models.HealthStatus)
	last := time.UnixMilli(w.lastHeartbeat.Load())

	if time.Since(last) > 3*w.config.HealthCheckInterval {
		status = models.HealthStatusUnhealthy
	}

	return models.WorkerHealth{
		WorkerID:        w.id,
		Status:          status,
		LastHeartbeatAt: last,
	}
}

// Statistics returns the worker's throughput counters.
func (w *Worker) Statistics() models.WorkerStatistics {
	return models.WorkerStatistics{
		WorkerID:         w.id,
		EventsProcessed:  w.eventsProcessed.Load(),
		EventsSucceeded:  w.eventsSucceeded.Load(),
		EventsFailed:     w.eventsFailed.Load(),
		ActiveEventCount: w.activeEvents.Load(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
