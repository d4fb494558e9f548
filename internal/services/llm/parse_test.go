package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOracleResponseExtractsOutermostObject(t *testing.T) {
	response := "Sure, here is the data:\n```json\n{\"year\": 2024, \"confidence\": 0.8}\n```\nLet me know."
	parsed := ParseOracleResponse(response)
	assert.Equal(t, float64(2024), parsed["year"])
	assert.Equal(t, 0.8, parsed["confidence"])
}

func TestParseOracleResponseNestedBraces(t *testing.T) {
	response := `prefix {"a": {"b": 1}, "c": [1, 2]} suffix`
	parsed := ParseOracleResponse(response)
	inner, ok := parsed["a"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), inner["b"])
}

func TestParseOracleResponseGarbageWrapsRaw(t *testing.T) {
	parsed := ParseOracleResponse("no json here at all")
	assert.Equal(t, false, parsed["parsed"])
	assert.Equal(t, "no json here at all", parsed["raw_response"])

	// Unbalanced braces also degrade gracefully
	parsed = ParseOracleResponse("{ definitely not json ]")
	assert.Equal(t, false, parsed["parsed"])
}

func TestOfflineOracleIsDeterministic(t *testing.T) {
	oracle := NewOfflineService()

	first, err := oracle.Call(context.Background(), "offline", "same prompt")
	require.NoError(t, err)
	second, err := oracle.Call(context.Background(), "offline", "same prompt")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := oracle.Call(context.Background(), "offline", "different prompt")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	// Output is itself parseable
	parsed := ParseOracleResponse(first)
	assert.NotEqual(t, false, parsed["parsed"])
	assert.Equal(t, "offline", parsed["analysis"])
}
