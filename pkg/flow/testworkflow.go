package flow

import (
	"context"
	"fmt"
	"time"

	logmemory "github.com/loomery/loom/pkg/eventlog/memory"
	"github.com/loomery/loom/pkg/models"
	storememory "github.com/loomery/loom/pkg/store/memory"
)

// TestRequest describes one ad-hoc test run of a registered workflow body.
type TestRequest struct {
	Tenant       string         `json:"tenant"           validate:"required"`
	WorkflowName string         `json:"workflow_name"    validate:"required"`
	Version      string         `json:"version"          validate:"required"`
	EventType    string         `json:"event_type"       validate:"required"`
	Payload      map[string]any `json:"payload"`
}

// TestResult reports the outcome of a test run.
type TestResult struct {
	Success     bool     `json:"success"`
	ExecutionID string   `json:"execution_id,omitempty"`
	Status      string   `json:"status,omitempty"`
	State       string   `json:"state,omitempty"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// TestWorkflow runs a single execution of a registered body inside a
// memory-backed sandbox: real registry and catalog, throwaway store and
// log, so tooling can probe behavior without touching production streams.
func (e *Engine) TestWorkflow(ctx context.Context, request TestRequest) (*TestResult, error) {
	if err := e.validate.Struct(request); err != nil {
		return nil, fmt.Errorf("invalid test request: %w", err)
	}

	result := &TestResult{
		Warnings: e.catalog.Validate(request.EventType, request.Payload),
	}

	if _, err := e.bodies.Resolve(request.WorkflowName, request.Version); err != nil {
		result.Error = err.Error()

		return result, nil
	}

	sandboxStore := storememory.NewStore()
	sandboxLog := logmemory.NewLog("loom:test", 1000)
	sandbox := NewEngine(sandboxStore, sandboxLog, e.actions, e.catalog, e.bodies, nil, e.logger)

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		Tenant:       request.Tenant,
		Name:         request.WorkflowName,
		Version:      request.Version,
		TriggerEvent: request.EventType,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := sandboxStore.SaveDefinition(ctx, definition); err != nil {
		return nil, err
	}

	event := models.NewEvent(request.EventType, request.Tenant, request.Payload)

	_, runErr := sandbox.HandleEvent(ctx, event)

	executions, err := sandboxStore.ListExecutions(ctx, request.Tenant)
	if err != nil {
		return nil, err
	}

	if len(executions) > 0 {
		execution := executions[0]
		result.ExecutionID = execution.ID
		result.Status = string(execution.Status)
		result.State = execution.CurrentState
	}

	if runErr != nil {
		result.Error = runErr.Error()

		return result, nil
	}

	result.Success = true

	return result, nil
}
