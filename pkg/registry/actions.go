// Package registry holds the in-process registries the runtime resolves
// against: named action handlers and the event catalog. Both are populated
// once at startup by the surrounding application and passed by reference.
package registry

import (
	"context"
	"fmt"
	"sync"
)

// ErrActionNotFound is returned when a workflow body invokes an action name
// nothing registered.
var ErrActionNotFound = fmt.Errorf("action not found")

// CallContext identifies the execution on whose behalf an action runs.
type CallContext struct {
	Tenant       string
	ExecutionID  string
	WorkflowName string
	UserID       string
}

// ActionFunc is a side-effecting operation a workflow may invoke. Handlers
// must be idempotent under at-least-once delivery; the runtime's history
// check only protects recorded invocations.
type ActionFunc func(ctx context.Context, params map[string]any, call CallContext) (map[string]any, error)

// ActionRegistry maps action names to handlers.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionFunc)}
}

// Register binds a handler to a name, replacing any previous binding.
func (r *ActionRegistry) Register(name string, handler ActionFunc) error {
	if name == "" || handler == nil {
		return fmt.Errorf("action name and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = handler

	return nil
}

// Invoke resolves and calls the handler. Handler errors surface unchanged
// to the calling workflow step.
func (r *ActionRegistry) Invoke(ctx context.Context, name string, params map[string]any, call CallContext) (map[string]any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}

	return handler(ctx, params, call)
}

// Names returns the registered action names, for diagnostics.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}

	return names
}
