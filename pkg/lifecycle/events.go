// Package lifecycle publishes execution lifecycle notifications on an
// in-process bus so observers (status logging, the query surface) stay
// decoupled from the runtime.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "loom.lifecycle"

const eventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSuspendedEvent EventType = "execution.suspended"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Tenant      string    `json:"tenant"`
	ExecutionID string    `json:"execution_id"`
	Workflow    string    `json:"workflow"`
}

func NewBaseEvent(eventType EventType, tenant, executionID, workflow string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Tenant:      tenant,
		ExecutionID: executionID,
		Workflow:    workflow,
	}
}

type ExecutionStarted struct {
	BaseEvent

	TriggerEvent string `json:"trigger_event"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionSuspended struct {
	BaseEvent

	State      string   `json:"state,omitempty"`
	WaitingFor []string `json:"waiting_for"`
}

func (e ExecutionSuspended) GetType() EventType { return ExecutionSuspendedEvent }

type ExecutionCompleted struct {
	BaseEvent

	State      string `json:"state,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	State string `json:"state,omitempty"`
	Error string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }
