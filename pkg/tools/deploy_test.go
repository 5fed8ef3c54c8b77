package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployRejectsMissingFields(t *testing.T) {
	d := NewDeployer(nil, nil) // rejected before the task service is touched

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no title", map[string]any{"tool_name": "execute_host_command"}},
		{"no tool_name", map[string]any{"title": "Ping sweep"}},
		{"blank title", map[string]any{"title": "  ", "tool_name": "execute_host_command"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Deploy(context.Background(), tt.args)
			assert.Equal(t, "error", result["status"])
			assert.Contains(t, result["message"], "requires title and tool_name")
		})
	}
}

func TestDeployRejectsMalformedFields(t *testing.T) {
	d := NewDeployer(nil, nil)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			"tool_args not an object",
			map[string]any{"title": "t", "tool_name": "n", "tool_args": "not json"},
			"invalid tool_args",
		},
		{
			"interval not numeric",
			map[string]any{"title": "t", "tool_name": "n", "interval_minutes": "soon"},
			"invalid interval_minutes",
		},
		{
			"target_agent unsupported type",
			map[string]any{"title": "t", "tool_name": "n", "target_agent": 42},
			"invalid target_agent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Deploy(context.Background(), tt.args)
			assert.Equal(t, "error", result["status"])
			assert.Contains(t, result["message"], tt.want)
		})
	}
}

func TestAsArgsMap(t *testing.T) {
	m, err := asArgsMap(map[string]any{"command": "uptime"})
	require.NoError(t, err)
	assert.Equal(t, "uptime", m["command"])

	m, err = asArgsMap(`{"command":"uptime"}`)
	require.NoError(t, err)
	assert.Equal(t, "uptime", m["command"])

	m, err = asArgsMap(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = asArgsMap("   ")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = asArgsMap(42)
	require.Error(t, err)
}

func TestAsTargetAgent(t *testing.T) {
	got, err := asTargetAgent(nil)
	require.NoError(t, err)
	assert.Equal(t, "all", got)

	got, err = asTargetAgent("")
	require.NoError(t, err)
	assert.Equal(t, "all", got)

	got, err = asTargetAgent("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got)

	got, err = asTargetAgent([]any{"10.0.0.1", "10.0.0.2"})
	require.NoError(t, err)
	assert.JSONEq(t, `["10.0.0.1","10.0.0.2"]`, got)

	got, err = asTargetAgent([]string{"web-01"})
	require.NoError(t, err)
	assert.JSONEq(t, `["web-01"]`, got)
}

func TestAsMinutes(t *testing.T) {
	n, err := asMinutes(float64(15))
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	n, err = asMinutes("10")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = asMinutes(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = asMinutes("soon")
	require.Error(t, err)
}
