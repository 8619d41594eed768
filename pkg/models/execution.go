// Package models defines the core domain records for durable workflow execution.
package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// HistoryKind discriminates entries in an execution's recorded history.
type HistoryKind string

const (
	HistoryKindAction HistoryKind = "action"
	HistoryKindEvent  HistoryKind = "event"
	HistoryKindEmit   HistoryKind = "emit"
	HistoryKindClock  HistoryKind = "clock"
)

// HistoryEntry records one resolved step of a workflow body. Entries are
// strictly ordered by Seq; replay consumes them in that order and only
// invokes real side effects past the end of the recorded history.
type HistoryEntry struct {
	Seq       int            `json:"seq"`
	Kind      HistoryKind    `json:"kind"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Execution is the durable per-run record of a workflow. It is mutated by
// exactly one worker at a time: the one holding the unacknowledged message
// that matched its wait condition.
type Execution struct {
	ID              string          `json:"id"`
	Tenant          string          `json:"tenant"`
	WorkflowName    string          `json:"workflow_name"`
	WorkflowVersion string          `json:"workflow_version"`
	Status          ExecutionStatus `json:"status"`

	// CurrentState is a free-text label set by the workflow body for
	// observability. It carries no control-flow meaning.
	CurrentState string `json:"current_state,omitempty"`

	Data       *OrderedData   `json:"data"`
	WaitingFor []string       `json:"waiting_for,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
	RetryCount int            `json:"retry_count"`
	Error      string         `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WaitsOn reports whether the execution is suspended on the given event type.
func (e *Execution) WaitsOn(eventType string) bool {
	if e.Status != ExecutionStatusWaiting {
		return false
	}

	for _, name := range e.WaitingFor {
		if name == eventType {
			return true
		}
	}

	return false
}

// SawEvent reports whether an event ID is already recorded in the history.
// Duplicate deliveries (crash + reclaim) are detected through this check.
func (e *Execution) SawEvent(eventID string) bool {
	for _, entry := range e.History {
		if entry.Kind == HistoryKindEvent && entry.EventID == eventID {
			return true
		}
	}

	return false
}
