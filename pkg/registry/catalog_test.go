package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *EventCatalog {
	t.Helper()

	catalog := NewEventCatalog()

	err := catalog.Register("CustomerCreated", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
			"email":       map[string]any{"type": "string"},
			"plan":        map[string]any{"type": "string", "default": "free"},
		},
		"required": []any{"customer_id", "email"},
	}, "A new customer signed up")
	require.NoError(t, err)

	require.NoError(t, catalog.Register("PingReceived", nil, "Schema-less event"))

	return catalog
}

func TestEventCatalog_ValidatePasses(t *testing.T) {
	catalog := newTestCatalog(t)

	warnings := catalog.Validate("CustomerCreated", map[string]any{
		"customer_id": "c-1",
		"email":       "a@b.c",
	})
	assert.Empty(t, warnings)
}

func TestEventCatalog_ValidateWarnsOnMismatch(t *testing.T) {
	catalog := newTestCatalog(t)

	warnings := catalog.Validate("CustomerCreated", map[string]any{
		"customer_id": 42,
	})
	assert.NotEmpty(t, warnings, "missing email and wrong customer_id type should warn")
}

func TestEventCatalog_ValidateUnknownTypeIsSilent(t *testing.T) {
	catalog := newTestCatalog(t)

	assert.Empty(t, catalog.Validate("NeverRegistered", map[string]any{"x": 1}))
	assert.Empty(t, catalog.Validate("PingReceived", map[string]any{"x": 1}))
}

func TestEventCatalog_RegisterRejectsInvalidSchema(t *testing.T) {
	catalog := NewEventCatalog()

	err := catalog.Register("Broken", map[string]any{
		"type": []any{map[string]any{}},
	}, "")
	assert.Error(t, err)

	err = catalog.Register("", nil, "")
	assert.Error(t, err)
}

func TestEventCatalog_ListSorted(t *testing.T) {
	catalog := newTestCatalog(t)

	entries := catalog.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "CustomerCreated", entries[0].EventType)
	assert.Equal(t, "PingReceived", entries[1].EventType)
}

func TestEventCatalog_Example(t *testing.T) {
	catalog := newTestCatalog(t)

	example, err := catalog.Example("CustomerCreated")
	require.NoError(t, err)
	assert.Equal(t, "example", example["customer_id"])
	assert.Equal(t, "free", example["plan"], "declared defaults win over placeholders")

	_, err = catalog.Example("NeverRegistered")
	assert.Error(t, err)
}
