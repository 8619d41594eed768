// Package redis implements the state store on Redis: JSON records under
// tenant-scoped key prefixes plus set indexes for waiting executions and
// definition versions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/store"
)

// Config holds connection settings for the Redis-backed store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis implementation of store.Store.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

func NewStore(ctx context.Context, config Config) (*Store, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "loom"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: config.KeyPrefix}, nil
}

// NewStoreWithClient wraps an existing client, sharing a connection pool
// with the event log.
func NewStoreWithClient(client goredis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "loom"
	}

	return &Store{client: client, prefix: keyPrefix}
}

func (s *Store) executionKey(tenant, id string) string {
	return fmt.Sprintf("%s:execution:%s:%s", s.prefix, tenant, id)
}

func (s *Store) executionIndexKey(tenant string) string {
	return fmt.Sprintf("%s:executions:%s", s.prefix, tenant)
}

func (s *Store) waitingKey(tenant, eventType string) string {
	return fmt.Sprintf("%s:waiting:%s:%s", s.prefix, tenant, eventType)
}

func (s *Store) definitionKey(tenant, name, version string) string {
	return fmt.Sprintf("%s:definition:%s:%s:%s", s.prefix, tenant, name, version)
}

func (s *Store) definitionVersionsKey(tenant, name string) string {
	return fmt.Sprintf("%s:definition-versions:%s:%s", s.prefix, tenant, name)
}

func (s *Store) definitionNamesKey(tenant string) string {
	return fmt.Sprintf("%s:definition-names:%s", s.prefix, tenant)
}

func (s *Store) activeVersionKey(tenant, name string) string {
	return fmt.Sprintf("%s:definition-active:%s:%s", s.prefix, tenant, name)
}

func (s *Store) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return s.writeExecution(ctx, nil, execution)
}

func (s *Store) SaveExecution(ctx context.Context, execution *models.Execution) error {
	previous, err := s.Execution(ctx, execution.Tenant, execution.ID)
	if err != nil && !errors.Is(err, store.ErrExecutionNotFound) {
		return err
	}

	return s.writeExecution(ctx, previous, execution)
}

// writeExecution persists the record and reconciles the waiting index
// against the previous wait set in one transaction.
func (s *Store) writeExecution(ctx context.Context, previous, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", execution.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.executionKey(execution.Tenant, execution.ID), data, 0)
	pipe.SAdd(ctx, s.executionIndexKey(execution.Tenant), execution.ID)

	if previous != nil {
		for _, eventType := range previous.WaitingFor {
			pipe.SRem(ctx, s.waitingKey(previous.Tenant, eventType), execution.ID)
		}
	}

	if execution.Status == models.ExecutionStatusWaiting {
		for _, eventType := range execution.WaitingFor {
			pipe.SAdd(ctx, s.waitingKey(execution.Tenant, eventType), execution.ID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

func (s *Store) Execution(ctx context.Context, tenant, id string) (*models.Execution, error) {
	data, err := s.client.Get(ctx, s.executionKey(tenant, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}

	return &execution, nil
}

func (s *Store) ListExecutions(ctx context.Context, tenant string) ([]*models.Execution, error) {
	ids, err := s.client.SMembers(ctx, s.executionIndexKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for tenant %s: %w", tenant, err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := s.Execution(ctx, tenant, id)
		if errors.Is(err, store.ErrExecutionNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (s *Store) WaitingExecutions(ctx context.Context, tenant, eventType string) ([]*models.Execution, error) {
	ids, err := s.client.SMembers(ctx, s.waitingKey(tenant, eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting index for %s/%s: %w", tenant, eventType, err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := s.Execution(ctx, tenant, id)
		if errors.Is(err, store.ErrExecutionNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		// The index can lag a concurrent save; trust the record.
		if execution.WaitsOn(eventType) {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

func (s *Store) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	data, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", definition.Key(), err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.definitionKey(definition.Tenant, definition.Name, definition.Version), data, 0)
	pipe.SAdd(ctx, s.definitionVersionsKey(definition.Tenant, definition.Name), definition.Version)
	pipe.SAdd(ctx, s.definitionNamesKey(definition.Tenant), definition.Name)

	if definition.Active {
		pipe.Set(ctx, s.activeVersionKey(definition.Tenant, definition.Name), definition.Version, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save definition %s: %w", definition.Key(), err)
	}

	return nil
}

func (s *Store) Definitions(ctx context.Context, tenant, name string) ([]*models.WorkflowDefinition, error) {
	versions, err := s.client.SMembers(ctx, s.definitionVersionsKey(tenant, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s/%s: %w", tenant, name, err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(versions))

	for _, version := range versions {
		definition, err := s.definition(ctx, tenant, name, version)
		if errors.Is(err, store.ErrDefinitionNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

func (s *Store) definition(ctx context.Context, tenant, name, version string) (*models.WorkflowDefinition, error) {
	data, err := s.client.Get(ctx, s.definitionKey(tenant, name, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s@%s", store.ErrDefinitionNotFound, tenant, name, version)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load definition %s/%s@%s: %w", tenant, name, version, err)
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition %s/%s@%s: %w", tenant, name, version, err)
	}

	return &definition, nil
}

func (s *Store) ActiveDefinition(ctx context.Context, tenant, name string) (*models.WorkflowDefinition, error) {
	version, err := s.client.Get(ctx, s.activeVersionKey(tenant, name)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: no active version for %s/%s", store.ErrDefinitionNotFound, tenant, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to resolve active version for %s/%s: %w", tenant, name, err)
	}

	return s.definition(ctx, tenant, name, version)
}

func (s *Store) SetActiveDefinition(ctx context.Context, tenant, name, version string) error {
	definition, err := s.definition(ctx, tenant, name, version)
	if err != nil {
		return err
	}

	definition.Active = true
	definition.UpdatedAt = time.Now().UTC()

	return s.SaveDefinition(ctx, definition)
}

func (s *Store) TriggerDefinitions(ctx context.Context, tenant, eventType string) ([]*models.WorkflowDefinition, error) {
	names, err := s.client.SMembers(ctx, s.definitionNamesKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list definition names for tenant %s: %w", tenant, err)
	}

	var matched []*models.WorkflowDefinition

	for _, name := range names {
		definition, err := s.ActiveDefinition(ctx, tenant, name)
		if errors.Is(err, store.ErrDefinitionNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		if definition.TriggerEvent == eventType {
			matched = append(matched, definition)
		}
	}

	return matched, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}
