// Package flow is the workflow runtime: it starts executions on trigger
// events, resumes suspended executions when a matching event arrives, and
// persists a checkpoint after every recorded step.
//
// Bodies execute under deterministic replay with memoized history. Every
// advance re-runs the body from the top; action invocations, event
// resolutions, emits and clock reads consult the execution's recorded
// history first and only the first call past the recorded history performs
// a real side effect. Bodies must therefore be deterministic apart from
// recorded inputs: no direct clock or randomness reads (use Run.Now), no
// iteration over unordered maps feeding into control flow.
package flow

import (
	"fmt"
	"sync"
)

// Body is the executable procedure of a workflow definition. It reads the
// trigger, waits for events, invokes actions and records state transitions
// through the Run it is handed.
type Body func(run *Run) error

// BodyRegistry maps (workflow name, version) to compiled bodies. Populated
// once at process start by the surrounding application.
type BodyRegistry struct {
	mu     sync.RWMutex
	bodies map[string]Body
}

func NewBodyRegistry() *BodyRegistry {
	return &BodyRegistry{bodies: make(map[string]Body)}
}

func bodyKey(name, version string) string {
	return name + "@" + version
}

func (r *BodyRegistry) Register(name, version string, body Body) error {
	if name == "" || version == "" || body == nil {
		return fmt.Errorf("workflow name, version and body are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bodies[bodyKey(name, version)] = body

	return nil
}

func (r *BodyRegistry) Resolve(name, version string) (Body, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	body, ok := r.bodies[bodyKey(name, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrBodyNotRegistered, name, version)
	}

	return body, nil
}
