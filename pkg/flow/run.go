package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/otelhelper"
	"github.com/loomery/loom/pkg/registry"
)

// Run is the context a workflow body executes against. One Run spans one
// advance (initial start or resume); a fresh Run replays the body from the
// beginning against the execution's recorded history.
type Run struct {
	ctx       context.Context
	execution *models.Execution
	actions   *registry.ActionRegistry
	catalog   *registry.EventCatalog
	appender  eventlog.Appender
	persist   func(ctx context.Context) error
	tracer    trace.Tracer
	logger    *slog.Logger

	// pending is the event delivered for this advance, nil once consumed
	// or when the advance replays history only.
	pending *models.Event

	// seq is the index of the next history slot. Slot 0 always holds the
	// trigger event.
	seq int

	// waitSet holds the event types of the WaitFor call that suspended
	// this run, if any.
	waitSet []string
}

// Context returns the context of the current advance, for action handlers
// and cancellation-aware bodies.
func (r *Run) Context() context.Context {
	return r.ctx
}

// Tenant returns the tenant the execution belongs to.
func (r *Run) Tenant() string {
	return r.execution.Tenant
}

// ExecutionID returns the identity of the running execution.
func (r *Run) ExecutionID() string {
	return r.execution.ID
}

// Trigger returns the payload of the event that started this execution.
func (r *Run) Trigger() map[string]any {
	if len(r.execution.History) == 0 {
		return nil
	}

	return r.execution.History[0].Result
}

// SetState updates the free-text observability label. It has no bearing on
// control flow or WaitFor resolution.
func (r *Run) SetState(label string) {
	r.execution.CurrentState = label
}

// Data returns the execution's own ordered key/value map. Keys are tenant-
// and execution-scoped, never shared across executions.
func (r *Run) Data() *models.OrderedData {
	if r.execution.Data == nil {
		r.execution.Data = models.NewOrderedData()
	}

	return r.execution.Data
}

// next claims the next history slot and returns its recorded entry, if the
// slot is within the recorded history.
func (r *Run) next() (int, *models.HistoryEntry) {
	seq := r.seq
	r.seq++

	if seq < len(r.execution.History) {
		return seq, &r.execution.History[seq]
	}

	return seq, nil
}

func (r *Run) record(entry models.HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	r.execution.History = append(r.execution.History, entry)
}

// Action invokes a registered action, or returns its recorded outcome when
// replaying. A recorded failure is returned as an error without
// re-invoking the handler, so a caught failure stays caught on replay.
func (r *Run) Action(name string, params map[string]any) (map[string]any, error) {
	seq, recorded := r.next()

	if recorded != nil {
		if recorded.Kind != models.HistoryKindAction || recorded.Name != name {
			return nil, fmt.Errorf("%w: slot %d recorded %s %q, body called action %q",
				ErrNondeterministic, seq, recorded.Kind, recorded.Name, name)
		}

		if recorded.Error != "" {
			return nil, errors.New(recorded.Error)
		}

		return recorded.Result, nil
	}

	call := registry.CallContext{
		Tenant:       r.execution.Tenant,
		ExecutionID:  r.execution.ID,
		WorkflowName: r.execution.WorkflowName,
	}

	ctx, span := otelhelper.StartSpan(r.ctx, r.tracer, "action.invoke",
		attribute.String(otelhelper.TenantKey, r.execution.Tenant),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.ActionNameKey, name),
	)
	defer span.End()

	result, err := r.actions.Invoke(ctx, name, params, call)
	if err != nil {
		otelhelper.SetError(span, err)
		// Recorded in memory only: if the body catches the error and later
		// checkpoints, the failure is replayed instead of re-invoked; if
		// the error propagates uncaught, the worker's retry re-invokes the
		// handler against freshly loaded state.
		r.record(models.HistoryEntry{
			Seq:    seq,
			Kind:   models.HistoryKindAction,
			Name:   name,
			Params: params,
			Error:  err.Error(),
		})

		return nil, err
	}

	r.record(models.HistoryEntry{
		Seq:    seq,
		Kind:   models.HistoryKindAction,
		Name:   name,
		Params: params,
		Result: result,
	})

	// Checkpoint before returning so a crash after the side effect never
	// re-invokes the handler.
	if err := r.persist(r.ctx); err != nil {
		return nil, fmt.Errorf("failed to checkpoint after action %s: %w", name, err)
	}

	return result, nil
}

// WaitFor suspends the body until the first matching event of any listed
// type arrives, by log order within the tenant. When no matching event is
// available it returns ErrSuspended, which the body must propagate.
func (r *Run) WaitFor(eventTypes ...string) (*models.Event, error) {
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("WaitFor requires at least one event type")
	}

	seq, recorded := r.next()

	if recorded != nil {
		if recorded.Kind != models.HistoryKindEvent || !matchesAny(recorded.Name, eventTypes) {
			return nil, fmt.Errorf("%w: slot %d recorded %s %q, body waited for %v",
				ErrNondeterministic, seq, recorded.Kind, recorded.Name, eventTypes)
		}

		return &models.Event{
			ID:      recorded.EventID,
			Type:    recorded.Name,
			Tenant:  r.execution.Tenant,
			Payload: recorded.Result,
		}, nil
	}

	if r.pending != nil && matchesAny(r.pending.Type, eventTypes) {
		event := r.pending
		// Only the earliest match is consumed per suspension point.
		r.pending = nil

		r.record(models.HistoryEntry{
			Seq:     seq,
			Kind:    models.HistoryKindEvent,
			Name:    event.Type,
			EventID: event.ID,
			Result:  event.Payload,
		})

		return event, nil
	}

	// Rewind the slot: the wait stays unresolved and the same call site
	// claims it again on the next advance.
	r.seq = seq
	r.waitSet = eventTypes

	return nil, ErrSuspended
}

// Emit publishes an event on the durable log and returns once it is
// recorded, not once it is processed. Re-emission on replay is
// deduplicated through the history, the same way as actions.
func (r *Run) Emit(eventType string, payload map[string]any) error {
	seq, recorded := r.next()

	if recorded != nil {
		if recorded.Kind != models.HistoryKindEmit || recorded.Name != eventType {
			return fmt.Errorf("%w: slot %d recorded %s %q, body emitted %q",
				ErrNondeterministic, seq, recorded.Kind, recorded.Name, eventType)
		}

		return nil
	}

	for _, warning := range r.catalog.Validate(eventType, payload) {
		r.logger.WarnContext(r.ctx, "Emitted payload does not match catalog schema", "warning", warning)
	}

	event := models.NewEvent(eventType, r.execution.Tenant, payload)

	if err := r.appender.Append(r.ctx, event); err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}

	r.record(models.HistoryEntry{
		Seq:     seq,
		Kind:    models.HistoryKindEmit,
		Name:    eventType,
		EventID: event.ID,
		Result:  payload,
	})

	if err := r.persist(r.ctx); err != nil {
		return fmt.Errorf("failed to checkpoint after emit %s: %w", eventType, err)
	}

	return nil
}

// Now returns the current time on first execution and the recorded time on
// replay, keeping clock reads deterministic.
func (r *Run) Now() (time.Time, error) {
	seq, recorded := r.next()

	if recorded != nil {
		if recorded.Kind != models.HistoryKindClock {
			return time.Time{}, fmt.Errorf("%w: slot %d recorded %s %q, body called Now",
				ErrNondeterministic, seq, recorded.Kind, recorded.Name)
		}

		return recorded.Timestamp, nil
	}

	now := time.Now().UTC()
	r.record(models.HistoryEntry{Seq: seq, Kind: models.HistoryKindClock, Timestamp: now})

	return now, nil
}

func matchesAny(eventType string, eventTypes []string) bool {
	for _, name := range eventTypes {
		if name == eventType {
			return true
		}
	}

	return false
}
