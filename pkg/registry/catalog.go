package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// CatalogEntry documents the payload shape of one event type.
type CatalogEntry struct {
	EventType   string         `json:"event_type"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// EventCatalog is a schema registry for event payloads. Validation failures
// are reported as warnings, never hard errors, so imperfectly-typed but
// legitimate events are not blocked.
type EventCatalog struct {
	mu      sync.RWMutex
	entries map[string]*catalogEntry
}

type catalogEntry struct {
	CatalogEntry

	compiled *gojsonschema.Schema
}

func NewEventCatalog() *EventCatalog {
	return &EventCatalog{entries: make(map[string]*catalogEntry)}
}

// Register declares an event type with a JSON Schema for its payload. A nil
// schema registers the type for documentation only.
func (c *EventCatalog) Register(eventType string, schema map[string]any, description string) error {
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}

	entry := &catalogEntry{CatalogEntry: CatalogEntry{
		EventType:   eventType,
		Description: description,
		Schema:      schema,
	}}

	if schema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for event type %s: %w", eventType, err)
		}

		entry.compiled = compiled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[eventType] = entry

	return nil
}

// Get returns the entry for an event type, if registered.
func (c *EventCatalog) Get(eventType string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[eventType]
	if !ok {
		return CatalogEntry{}, false
	}

	return entry.CatalogEntry, true
}

// List returns all entries sorted by event type.
func (c *EventCatalog) List() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry.CatalogEntry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EventType < entries[j].EventType
	})

	return entries
}

// Validate checks a payload against the declared schema and returns
// human-readable warnings. Unknown event types and schema-less entries
// produce no warnings.
func (c *EventCatalog) Validate(eventType string, payload map[string]any) []string {
	c.mu.RLock()
	entry, ok := c.entries[eventType]
	c.mu.RUnlock()

	if !ok || entry.compiled == nil {
		return nil
	}

	result, err := entry.compiled.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return []string{fmt.Sprintf("payload for %s could not be validated: %v", eventType, err)}
	}

	if result.Valid() {
		return nil
	}

	warnings := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		warnings = append(warnings, fmt.Sprintf("payload for %s: %s", eventType, desc.String()))
	}

	return warnings
}

// Example generates a sample payload from the declared schema, used by
// tooling to show authors what an event looks like.
func (c *EventCatalog) Example(eventType string) (map[string]any, error) {
	c.mu.RLock()
	entry, ok := c.entries[eventType]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event type %s is not in the catalog", eventType)
	}

	if entry.Schema == nil {
		return map[string]any{}, nil
	}

	return exampleFromSchema(entry.Schema), nil
}

func exampleFromSchema(schema map[string]any) map[string]any {
	example := make(map[string]any)

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return example
	}

	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := properties[key].(map[string]any)
		if !ok {
			continue
		}

		example[key] = exampleValue(prop)
	}

	return example
}

func exampleValue(prop map[string]any) any {
	if def, ok := prop["default"]; ok {
		return def
	}

	switch prop["type"] {
	case "string":
		return "example"
	case "number":
		return json.Number("1")
	case "integer":
		return json.Number("1")
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return exampleFromSchema(prop)
	default:
		return nil
	}
}
