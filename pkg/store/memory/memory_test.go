package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/store"
)

func testExecution(tenant, id string) *models.Execution {
	now := time.Now().UTC()

	return &models.Execution{
		ID:              id,
		Tenant:          tenant,
		WorkflowName:    "onboarding",
		WorkflowVersion: "1.0.0",
		Status:          models.ExecutionStatusRunning,
		Data:            models.NewOrderedData(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestStore_ExecutionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	execution := testExecution("t1", "exec-1")
	execution.Data.Set("ticket_id", "TCK-1")
	require.NoError(t, st.CreateExecution(ctx, execution))

	loaded, err := st.Execution(ctx, "t1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.ID, loaded.ID)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)

	value, ok := loaded.Data.Get("ticket_id")
	require.True(t, ok)
	assert.Equal(t, "TCK-1", value)
}

func TestStore_ExecutionNotFound(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	_, err := st.Execution(ctx, "t1", "missing")
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)
}

func TestStore_ExecutionsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	require.NoError(t, st.CreateExecution(ctx, testExecution("t1", "exec-1")))
	require.NoError(t, st.CreateExecution(ctx, testExecution("t2", "exec-2")))

	_, err := st.Execution(ctx, "t2", "exec-1")
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)

	executions, err := st.ListExecutions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "exec-1", executions[0].ID)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	require.NoError(t, st.CreateExecution(ctx, testExecution("t1", "exec-1")))

	loaded, err := st.Execution(ctx, "t1", "exec-1")
	require.NoError(t, err)

	loaded.Status = models.ExecutionStatusFailed

	reloaded, err := st.Execution(ctx, "t1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, reloaded.Status,
		"mutating a loaded record must not touch the stored one")
}

func TestStore_WaitingExecutions(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	waiting := testExecution("t1", "exec-1")
	waiting.Status = models.ExecutionStatusWaiting
	waiting.WaitingFor = []string{"PaymentReceived", "OrderCancelled"}
	require.NoError(t, st.SaveExecution(ctx, waiting))

	running := testExecution("t1", "exec-2")
	require.NoError(t, st.SaveExecution(ctx, running))

	matches, err := st.WaitingExecutions(ctx, "t1", "PaymentReceived")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "exec-1", matches[0].ID)

	matches, err = st.WaitingExecutions(ctx, "t1", "SomethingElse")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_DefinitionVersionsAndActivePointer(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	v1 := &models.WorkflowDefinition{
		Tenant: "t1", Name: "onboarding", Version: "1.0.0",
		TriggerEvent: "CustomerCreated", Active: true,
	}
	require.NoError(t, st.SaveDefinition(ctx, v1))

	v2 := &models.WorkflowDefinition{
		Tenant: "t1", Name: "onboarding", Version: "2.0.0",
		TriggerEvent: "CustomerCreated",
	}
	require.NoError(t, st.SaveDefinition(ctx, v2))

	active, err := st.ActiveDefinition(ctx, "t1", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", active.Version)

	require.NoError(t, st.SetActiveDefinition(ctx, "t1", "onboarding", "2.0.0"))

	active, err = st.ActiveDefinition(ctx, "t1", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", active.Version)

	definitions, err := st.Definitions(ctx, "t1", "onboarding")
	require.NoError(t, err)
	assert.Len(t, definitions, 2)
}

func TestStore_SetActiveDefinitionUnknownVersion(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	err := st.SetActiveDefinition(ctx, "t1", "onboarding", "9.9.9")
	assert.ErrorIs(t, err, store.ErrDefinitionNotFound)
}

func TestStore_TriggerDefinitions(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	require.NoError(t, st.SaveDefinition(ctx, &models.WorkflowDefinition{
		Tenant: "t1", Name: "onboarding", Version: "1.0.0",
		TriggerEvent: "CustomerCreated", Active: true,
	}))
	require.NoError(t, st.SaveDefinition(ctx, &models.WorkflowDefinition{
		Tenant: "t1", Name: "billing", Version: "1.0.0",
		TriggerEvent: "InvoiceIssued", Active: true,
	}))

	matched, err := st.TriggerDefinitions(ctx, "t1", "CustomerCreated")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "onboarding", matched[0].Name)

	matched, err = st.TriggerDefinitions(ctx, "t2", "CustomerCreated")
	require.NoError(t, err)
	assert.Empty(t, matched, "another tenant's definitions never match")
}
