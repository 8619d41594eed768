package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedData_PreservesInsertionOrder(t *testing.T) {
	data := NewOrderedData()
	data.Set("zebra", 1)
	data.Set("alpha", 2)
	data.Set("mike", 3)

	assert.Equal(t, []string{"zebra", "alpha", "mike"}, data.Keys())
}

func TestOrderedData_OverwriteKeepsPosition(t *testing.T) {
	data := NewOrderedData()
	data.Set("first", 1)
	data.Set("second", 2)
	data.Set("first", 99)

	assert.Equal(t, []string{"first", "second"}, data.Keys())

	value, ok := data.Get("first")
	require.True(t, ok)
	assert.Equal(t, 99, value)
}

func TestOrderedData_JSONRoundTrip(t *testing.T) {
	data := NewOrderedData()
	data.Set("c", "third")
	data.Set("a", "first")
	data.Set("b", "second")

	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Equal(t, `{"c":"third","a":"first","b":"second"}`, string(encoded))

	decoded := NewOrderedData()
	require.NoError(t, json.Unmarshal(encoded, decoded))

	assert.Equal(t, []string{"c", "a", "b"}, decoded.Keys())
	assert.Equal(t, data.Len(), decoded.Len())
}

func TestOrderedData_GetMissing(t *testing.T) {
	data := NewOrderedData()

	_, ok := data.Get("absent")
	assert.False(t, ok)
	assert.Equal(t, 0, data.Len())
}
