// Package store defines the durable state layer: execution records and
// workflow definition metadata. Every key and query is tenant-scoped.
package store

import (
	"context"
	"errors"

	"github.com/loomery/loom/pkg/models"
)

var (
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrDefinitionNotFound = errors.New("workflow definition not found")
)

// ExecutionStore persists per-execution state. Saves also maintain the
// waiting index so workers can match incoming events to suspended
// executions without scanning.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	SaveExecution(ctx context.Context, execution *models.Execution) error
	Execution(ctx context.Context, tenant, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, tenant string) ([]*models.Execution, error)

	// WaitingExecutions returns executions of the tenant currently
	// suspended on the given event type.
	WaitingExecutions(ctx context.Context, tenant, eventType string) ([]*models.Execution, error)
}

// DefinitionStore persists workflow definition metadata. The CRUD surface
// is owned by the surrounding application; the engine only loads active
// definitions and trigger bindings.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error
	Definitions(ctx context.Context, tenant, name string) ([]*models.WorkflowDefinition, error)
	ActiveDefinition(ctx context.Context, tenant, name string) (*models.WorkflowDefinition, error)
	SetActiveDefinition(ctx context.Context, tenant, name, version string) error

	// TriggerDefinitions returns the active definitions of the tenant whose
	// trigger event matches the given type.
	TriggerDefinitions(ctx context.Context, tenant, eventType string) ([]*models.WorkflowDefinition, error)
}

// Store is the full durable state contract.
type Store interface {
	ExecutionStore
	DefinitionStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
