package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeArgs_NonStrings(t *testing.T) {
	assert.Equal(t, map[string]any{}, NormalizeArgs(nil))
	assert.Equal(t, map[string]any{"agent_id": "001"}, NormalizeArgs(map[string]any{"agent_id": "001"}))
	assert.Equal(t, map[string]any{"input": float64(7)}, NormalizeArgs(float64(7)))
	assert.Equal(t, map[string]any{"input": []any{"a", "b"}}, NormalizeArgs([]any{"a", "b"}))
}

func TestNormalizeArgs_Empty(t *testing.T) {
	assert.Equal(t, map[string]any{}, NormalizeArgs(""))
	assert.Equal(t, map[string]any{}, NormalizeArgs("   \n  "))
}

func TestNormalizeArgs_JSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]any
	}{
		{
			name:  "json object",
			input: `{"agent_id": "001", "limit": 10}`,
			expected: map[string]any{
				"agent_id": "001",
				"limit":    float64(10),
			},
		},
		{
			name:  "json object with nested",
			input: `{"filter": {"level": "critical"}, "agent_id": "001"}`,
			expected: map[string]any{
				"filter":   map[string]any{"level": "critical"},
				"agent_id": "001",
			},
		},
		{
			name:     "json array wraps in input",
			input:    `["10.0.0.1", "10.0.0.2"]`,
			expected: map[string]any{"input": []any{"10.0.0.1", "10.0.0.2"}},
		},
		{
			name:     "json string wraps in input",
			input:    `"hello world"`,
			expected: map[string]any{"input": "hello world"},
		},
		{
			name:     "json number wraps in input",
			input:    `42`,
			expected: map[string]any{"input": float64(42)},
		},
		{
			name:     "json null wraps in input",
			input:    `null`,
			expected: map[string]any{"input": nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeArgs(tt.input))
		})
	}
}

func TestNormalizeArgs_YAML(t *testing.T) {
	input := "agents:\n  - \"001\"\n  - \"002\"\nlimit: 5"
	result := NormalizeArgs(input)
	assert.Equal(t, []any{"001", "002"}, result["agents"])
	assert.Equal(t, 5, result["limit"])
}

func TestNormalizeArgs_KeyValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]any
	}{
		{
			name:  "colon pairs",
			input: "agent_id: 001, limit: 10",
			expected: map[string]any{
				"agent_id": int64(1),
				"limit":    int64(10),
			},
		},
		{
			name:  "equals pairs",
			input: "status=active, pretty=true",
			expected: map[string]any{
				"status": "active",
				"pretty": true,
			},
		},
		{
			name:  "newline separated",
			input: "query: failed login\nlimit: 20",
			expected: map[string]any{
				"query": "failed login",
				"limit": int64(20),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeArgs(tt.input))
		})
	}
}

func TestNormalizeArgs_RawFallback(t *testing.T) {
	input := "show me the recent alerts"
	assert.Equal(t, map[string]any{"input": input}, NormalizeArgs(input))
}

func TestCoerceValue(t *testing.T) {
	assert.Equal(t, true, coerceValue("True"))
	assert.Equal(t, false, coerceValue("false"))
	assert.Nil(t, coerceValue("null"))
	assert.Nil(t, coerceValue("None"))
	assert.Equal(t, int64(42), coerceValue("42"))
	assert.Equal(t, 3.14, coerceValue("3.14"))
	assert.Equal(t, "NaN", coerceValue("NaN"))
	assert.Equal(t, "web-01", coerceValue("web-01"))
}
