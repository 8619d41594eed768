package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.False(t, ExecutionStatusWaiting.Terminal())
	assert.True(t, ExecutionStatusCompleted.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
}

func TestExecution_WaitsOn(t *testing.T) {
	execution := &Execution{
		Status:     ExecutionStatusWaiting,
		WaitingFor: []string{"PaymentReceived", "OrderCancelled"},
	}

	assert.True(t, execution.WaitsOn("PaymentReceived"))
	assert.True(t, execution.WaitsOn("OrderCancelled"))
	assert.False(t, execution.WaitsOn("SomethingElse"))

	execution.Status = ExecutionStatusRunning
	assert.False(t, execution.WaitsOn("PaymentReceived"), "a running execution waits on nothing")
}

func TestExecution_SawEvent(t *testing.T) {
	execution := &Execution{
		History: []HistoryEntry{
			{Seq: 0, Kind: HistoryKindEvent, Name: "CustomerCreated", EventID: "evt-1"},
			{Seq: 1, Kind: HistoryKindAction, Name: "create_ticket"},
			{Seq: 2, Kind: HistoryKindEvent, Name: "WelcomeEmailSent", EventID: "evt-2"},
		},
	}

	assert.True(t, execution.SawEvent("evt-1"))
	assert.True(t, execution.SawEvent("evt-2"))
	assert.False(t, execution.SawEvent("evt-3"))
}

func TestNewEvent(t *testing.T) {
	event := NewEvent("CustomerCreated", "t1", map[string]any{"email": "a@b.c"})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "CustomerCreated", event.Type)
	assert.Equal(t, "t1", event.Tenant)
	assert.False(t, event.Timestamp.IsZero())
}
