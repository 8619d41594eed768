// Package memory provides an in-memory store.Store for tests and the
// test-workflow sandbox.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/store"
)

// Store keeps deep copies of every record so callers never share mutable
// state with the store, matching the serialization boundary of the Redis
// backend.
type Store struct {
	mu          sync.RWMutex
	executions  map[string]map[string][]byte // tenant -> id -> JSON
	definitions map[string]map[string][]byte // tenant -> name:version -> JSON
	active      map[string]string            // tenant:name -> version
}

func NewStore() *Store {
	return &Store{
		executions:  make(map[string]map[string][]byte),
		definitions: make(map[string]map[string][]byte),
		active:      make(map[string]string),
	}
}

func (s *Store) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return s.SaveExecution(ctx, execution)
}

func (s *Store) SaveExecution(_ context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", execution.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.executions[execution.Tenant]
	if !ok {
		tenant = make(map[string][]byte)
		s.executions[execution.Tenant] = tenant
	}

	tenant[execution.ID] = data

	return nil
}

func (s *Store) Execution(_ context.Context, tenant, id string) (*models.Execution, error) {
	s.mu.RLock()
	data, ok := s.executions[tenant][id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (s *Store) ListExecutions(_ context.Context, tenant string) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executions := make([]*models.Execution, 0, len(s.executions[tenant]))

	for _, data := range s.executions[tenant] {
		var execution models.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, err
		}

		executions = append(executions, &execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}

func (s *Store) WaitingExecutions(ctx context.Context, tenant, eventType string) ([]*models.Execution, error) {
	executions, err := s.ListExecutions(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var waiting []*models.Execution

	for _, execution := range executions {
		if execution.WaitsOn(eventType) {
			waiting = append(waiting, execution)
		}
	}

	return waiting, nil
}

func (s *Store) SaveDefinition(_ context.Context, definition *models.WorkflowDefinition) error {
	data, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", definition.Key(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.definitions[definition.Tenant]
	if !ok {
		tenant = make(map[string][]byte)
		s.definitions[definition.Tenant] = tenant
	}

	tenant[definition.Name+":"+definition.Version] = data

	if definition.Active {
		s.active[definition.Tenant+":"+definition.Name] = definition.Version
	}

	return nil
}

func (s *Store) Definitions(_ context.Context, tenant, name string) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var definitions []*models.WorkflowDefinition

	for _, data := range s.definitions[tenant] {
		var definition models.WorkflowDefinition
		if err := json.Unmarshal(data, &definition); err != nil {
			return nil, err
		}

		if definition.Name == name {
			definitions = append(definitions, &definition)
		}
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Version < definitions[j].Version
	})

	return definitions, nil
}

func (s *Store) ActiveDefinition(_ context.Context, tenant, name string) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.active[tenant+":"+name]
	if !ok {
		return nil, fmt.Errorf("%w: no active version for %s/%s", store.ErrDefinitionNotFound, tenant, name)
	}

	data, ok := s.definitions[tenant][name+":"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s@%s", store.ErrDefinitionNotFound, tenant, name, version)
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, err
	}

	return &definition, nil
}

func (s *Store) SetActiveDefinition(ctx context.Context, tenant, name, version string) error {
	s.mu.Lock()

	data, ok := s.definitions[tenant][name+":"+version]
	if !ok {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s/%s@%s", store.ErrDefinitionNotFound, tenant, name, version)
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		s.mu.Unlock()

		return err
	}

	s.mu.Unlock()

	definition.Active = true
	definition.UpdatedAt = time.Now().UTC()

	return s.SaveDefinition(ctx, &definition)
}

func (s *Store) TriggerDefinitions(_ context.Context, tenant, eventType string) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.WorkflowDefinition

	for key, version := range s.active {
		data, ok := s.definitions[tenant][keyName(key, tenant)+":"+version]
		if !ok {
			continue
		}

		var definition models.WorkflowDefinition
		if err := json.Unmarshal(data, &definition); err != nil {
			return nil, err
		}

		if definition.Tenant == tenant && definition.TriggerEvent == eventType {
			matched = append(matched, &definition)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Name < matched[j].Name
	})

	return matched, nil
}

// keyName extracts the definition name from an active-pointer key of the
// form "tenant:name".
func keyName(key, tenant string) string {
	if len(key) > len(tenant)+1 && key[:len(tenant)+1] == tenant+":" {
		return key[len(tenant)+1:]
	}

	return key
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}
