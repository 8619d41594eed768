package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/lifecycle"
	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/registry"
	"github.com/loomery/loom/pkg/store"
)

// Publisher receives lifecycle notifications. Nil-safe via noopPublisher.
type Publisher interface {
	Publish(ctx context.Context, event lifecycle.Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, lifecycle.Event) error { return nil }

// Engine advances executions: it starts new ones on trigger events and
// resumes suspended ones on matching events. It never retries workflow
// logic itself; event-processing retries are worker policy.
type Engine struct {
	store     store.Store
	appender  eventlog.Appender
	actions   *registry.ActionRegistry
	catalog   *registry.EventCatalog
	bodies    *BodyRegistry
	publisher Publisher
	validate  *validator.Validate
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewEngine(
	st store.Store,
	appender eventlog.Appender,
	actions *registry.ActionRegistry,
	catalog *registry.EventCatalog,
	bodies *BodyRegistry,
	publisher Publisher,
	logger *slog.Logger,
) *Engine {
	if publisher == nil {
		publisher = noopPublisher{}
	}

	return &Engine{
		store:     st,
		appender:  appender,
		actions:   actions,
		catalog:   catalog,
		bodies:    bodies,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.With("module", "flow_engine"),
		tracer:    otel.Tracer("loom/flow"),
	}
}

// RegisterDefinition validates and persists a workflow definition.
// Definition errors surface here, synchronously, and are never retried.
func (e *Engine) RegisterDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	if err := e.validate.Struct(definition); err != nil {
		return fmt.Errorf("invalid workflow definition %s: %w", definition.Name, err)
	}

	if _, err := e.bodies.Resolve(definition.Name, definition.Version); err != nil {
		return err
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	return e.store.SaveDefinition(ctx, definition)
}

// HandleEvent routes one delivered event: it starts executions for every
// active definition triggered by the event's type and resumes every
// execution of the tenant waiting on it. Duplicate deliveries are detected
// through the recorded history and ignored, so redelivery after a crash or
// reclaim never double-starts or double-resumes. The returned bool reports
// whether the event matched anything; workers ack and drop unmatched
// events.
func (e *Engine) HandleEvent(ctx context.Context, event *models.Event) (bool, error) {
	logger := e.logger.With("tenant", event.Tenant, "event_type", event.Type, "event_id", event.ID)

	for _, warning := range e.catalog.Validate(event.Type, event.Payload) {
		logger.WarnContext(ctx, "Event payload does not match catalog schema", "warning", warning)
	}

	var errs []error

	matched := false
	handled := make(map[string]bool)

	definitions, err := e.store.TriggerDefinitions(ctx, event.Tenant, event.Type)
	if err != nil {
		return false, fmt.Errorf("failed to resolve trigger definitions: %w", err)
	}

	for _, definition := range definitions {
		matched = true

		started, err := e.startExecution(ctx, definition, event)
		if started != nil {
			handled[started.ID] = true
		}

		if err != nil {
			errs = append(errs, err)

			continue
		}

		if started != nil {
			logger.InfoContext(ctx, "Started execution",
				"execution_id", started.ID, "workflow", definition.Name, "status", started.Status)
		}
	}

	waiting, err := e.store.WaitingExecutions(ctx, event.Tenant, event.Type)
	if err != nil {
		return matched, fmt.Errorf("failed to resolve waiting executions: %w", err)
	}

	for _, execution := range waiting {
		matched = true
		handled[execution.ID] = true

		if execution.SawEvent(event.ID) {
			logger.DebugContext(ctx, "Skipping duplicate delivery", "execution_id", execution.ID)

			continue
		}

		if err := e.resumeExecution(ctx, execution, event); err != nil {
			errs = append(errs, fmt.Errorf("execution %s: %w", execution.ID, err))
		}
	}

	// A previous advance for this event may have failed past a checkpoint,
	// leaving the execution running with the event already recorded. The
	// redelivery resumes it from its recorded history.
	all, err := e.store.ListExecutions(ctx, event.Tenant)
	if err != nil {
		return matched, fmt.Errorf("failed to scan executions for redelivery: %w", err)
	}

	for _, execution := range all {
		if handled[execution.ID] || execution.Status != models.ExecutionStatusRunning || !execution.SawEvent(event.ID) {
			continue
		}

		matched = true
		execution.RetryCount++

		logger.InfoContext(ctx, "Resuming interrupted execution",
			"execution_id", execution.ID, "retry_count", execution.RetryCount)

		if err := e.advance(ctx, execution, nil); err != nil {
			errs = append(errs, fmt.Errorf("execution %s: %w", execution.ID, err))
		}
	}

	return matched, errors.Join(errs...)
}

// MarkEventFailed transitions the executions an exhausted event would have
// advanced to failed. Called by workers after retry exhaustion so the
// message can be acknowledged without blocking the stream.
func (e *Engine) MarkEventFailed(ctx context.Context, event *models.Event, cause error) error {
	waiting, err := e.store.WaitingExecutions(ctx, event.Tenant, event.Type)
	if err != nil {
		return err
	}

	all, err := e.store.ListExecutions(ctx, event.Tenant)
	if err != nil {
		return err
	}

	affected := waiting

	for _, execution := range all {
		if execution.Status == models.ExecutionStatusRunning && execution.SawEvent(event.ID) {
			affected = append(affected, execution)
		}
	}

	var errs []error

	for _, execution := range affected {
		if execution.Status == models.ExecutionStatusWaiting && execution.SawEvent(event.ID) {
			continue
		}

		execution.Status = models.ExecutionStatusFailed
		execution.Error = cause.Error()
		execution.WaitingFor = nil
		execution.UpdatedAt = time.Now().UTC()

		if err := e.store.SaveExecution(ctx, execution); err != nil {
			errs = append(errs, err)

			continue
		}

		e.publishFailed(ctx, execution)
	}

	return errors.Join(errs...)
}

func (e *Engine) startExecution(ctx context.Context, definition *models.WorkflowDefinition, event *models.Event) (*models.Execution, error) {
	// A redelivered trigger must not start a second execution.
	existing, err := e.store.ListExecutions(ctx, event.Tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate trigger: %w", err)
	}

	for _, candidate := range existing {
		if candidate.WorkflowName == definition.Name && candidate.SawEvent(event.ID) {
			return nil, nil
		}
	}

	now := time.Now().UTC()
	execution := &models.Execution{
		ID:              uuid.New().String(),
		Tenant:          event.Tenant,
		WorkflowName:    definition.Name,
		WorkflowVersion: definition.Version,
		Status:          models.ExecutionStatusRunning,
		Data:            models.NewOrderedData(),
		History: []models.HistoryEntry{{
			Seq:       0,
			Kind:      models.HistoryKindEvent,
			Name:      event.Type,
			EventID:   event.ID,
			Result:    event.Payload,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if err := e.publisher.Publish(ctx, lifecycle.ExecutionStarted{
		BaseEvent:    lifecycle.NewBaseEvent(lifecycle.ExecutionStartedEvent, execution.Tenant, execution.ID, execution.WorkflowName),
		TriggerEvent: event.Type,
	}); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "error", err)
	}

	if err := e.advance(ctx, execution, nil); err != nil {
		return execution, err
	}

	return execution, nil
}

func (e *Engine) resumeExecution(ctx context.Context, execution *models.Execution, event *models.Event) error {
	execution.Status = models.ExecutionStatusRunning
	execution.WaitingFor = nil

	return e.advance(ctx, execution, event)
}

// advance replays the body from the top and runs it forward until the next
// suspension point or terminal state. The caller must hold the message
// claim for the event that matched this execution; that claim is the
// single-writer token per execution.
func (e *Engine) advance(ctx context.Context, execution *models.Execution, pending *models.Event) error {
	body, err := e.bodies.Resolve(execution.WorkflowName, execution.WorkflowVersion)
	if err != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = err.Error()
		execution.UpdatedAt = time.Now().UTC()

		if saveErr := e.store.SaveExecution(ctx, execution); saveErr != nil {
			return errors.Join(err, saveErr)
		}

		e.publishFailed(ctx, execution)

		return err
	}

	run := &Run{
		ctx:       ctx,
		execution: execution,
		actions:   e.actions,
		catalog:   e.catalog,
		appender:  e.appender,
		tracer:    e.tracer,
		logger:    e.logger.With("execution_id", execution.ID),
		pending:   pending,
		seq:       1, // slot 0 is the trigger
	}
	run.persist = func(ctx context.Context) error {
		execution.UpdatedAt = time.Now().UTC()

		return e.store.SaveExecution(ctx, execution)
	}

	bodyErr := body(run)

	switch {
	case bodyErr == nil:
		execution.Status = models.ExecutionStatusCompleted
		execution.WaitingFor = nil
		execution.UpdatedAt = time.Now().UTC()

		if err := e.store.SaveExecution(ctx, execution); err != nil {
			return err
		}

		if err := e.publisher.Publish(ctx, lifecycle.ExecutionCompleted{
			BaseEvent:  lifecycle.NewBaseEvent(lifecycle.ExecutionCompletedEvent, execution.Tenant, execution.ID, execution.WorkflowName),
			State:      execution.CurrentState,
			DurationMs: time.Since(execution.CreatedAt).Milliseconds(),
		}); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "error", err)
		}

		return nil

	case errors.Is(bodyErr, ErrSuspended):
		execution.Status = models.ExecutionStatusWaiting
		execution.WaitingFor = run.waitSet
		execution.UpdatedAt = time.Now().UTC()

		if err := e.store.SaveExecution(ctx, execution); err != nil {
			return err
		}

		if err := e.publisher.Publish(ctx, lifecycle.ExecutionSuspended{
			BaseEvent:  lifecycle.NewBaseEvent(lifecycle.ExecutionSuspendedEvent, execution.Tenant, execution.ID, execution.WorkflowName),
			State:      execution.CurrentState,
			WaitingFor: execution.WaitingFor,
		}); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "error", err)
		}

		return nil

	default:
		// Uncaught body error: surface to the worker, which retries event
		// processing with backoff and marks the execution failed only once
		// retries are exhausted. In-memory history mutations from this
		// advance are deliberately not persisted.
		return bodyErr
	}
}

func (e *Engine) publishFailed(ctx context.Context, execution *models.Execution) {
	if err := e.publisher.Publish(ctx, lifecycle.ExecutionFailed{
		BaseEvent: lifecycle.NewBaseEvent(lifecycle.ExecutionFailedEvent, execution.Tenant, execution.ID, execution.WorkflowName),
		State:     execution.CurrentState,
		Error:     execution.Error,
	}); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "error", err)
	}
}
