package reason

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantTool string
		wantArgs map[string]any
	}{
		{
			name:     "bare json object",
			text:     `{"tool":"get_agents","args":{"status":"active"}}`,
			wantTool: "get_agents",
			wantArgs: map[string]any{"status": "active"},
		},
		{
			name: "fenced json after narrative",
			text: "Let me list the processes first.\n```json\n{\"tool\": \"linux_pslist\", \"args\": {\"client_id\": \"C.1\"}}\n```",
			wantTool: "linux_pslist",
			wantArgs: map[string]any{"client_id": "C.1"},
		},
		{
			name:     "tool_name and tool_args keys",
			text:     `{"tool_name":"search_web","tool_args":{"query":"CVE-2024-3094"},"reason":"need advisories"}`,
			wantTool: "search_web",
			wantArgs: map[string]any{"query": "CVE-2024-3094"},
		},
		{
			name:     "arguments key",
			text:     `{"tool":"get_agents","arguments":{"status":"active"}}`,
			wantTool: "get_agents",
			wantArgs: map[string]any{"status": "active"},
		},
		{
			name:     "braces inside string values",
			text:     `{"tool":"execute_host_command","args":{"target":"web-01","command":"awk '{print $1}' /etc/passwd"}}`,
			wantTool: "execute_host_command",
			wantArgs: map[string]any{"target": "web-01", "command": "awk '{print $1}' /etc/passwd"},
		},
		{
			name:     "skips earlier object without tool key",
			text:     `{"summary":"two services down"} and now {"tool":"restart","args":{}}`,
			wantTool: "restart",
			wantArgs: map[string]any{},
		},
		{
			name:     "recovers after unbalanced prefix",
			text:     `{oops {"tool": "get_agents", "args": {"status": "active"}}`,
			wantTool: "get_agents",
			wantArgs: map[string]any{"status": "active"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := extractToolCall(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.wantTool, call.Tool)
			if tt.wantArgs != nil {
				assert.Equal(t, map[string]any(tt.wantArgs), call.Args)
			}
		})
	}
}

func TestExtractToolCallNone(t *testing.T) {
	for _, text := range []string{
		"No anomalies found across the fleet.",
		`{"status": "ok", "count": 3}`,
		`{"tool": ""}`,
		"unbalanced { everywhere",
		"",
	} {
		_, ok := extractToolCall(text)
		assert.False(t, ok, "text: %q", text)
	}
}

func TestExtractToolCallMissingArgs(t *testing.T) {
	call, ok := extractToolCall(`{"tool":"get_agents"}`)
	require.True(t, ok)
	assert.Equal(t, "get_agents", call.Tool)
	assert.Nil(t, call.Args)
}

func TestStripCall(t *testing.T) {
	text := "Checking the process table now.\n```json\n{\"tool\": \"linux_pslist\", \"args\": {}}\n```\nStand by."
	call, ok := extractToolCall(text)
	require.True(t, ok)

	narrative := stripCall(text, call)
	assert.Contains(t, narrative, "Checking the process table now.")
	assert.Contains(t, narrative, "Stand by.")
	assert.NotContains(t, narrative, "linux_pslist")
	assert.NotContains(t, narrative, "```")
}

func TestAuditVerdict(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"The process no longer exists.\n[AUDIT_RESULT:clear]", "clear", true},
		{"Confirmed on both hosts.\n[AUDIT_RESULT:confirmed]", "confirmed", true},
		{"Evidence is mixed.\n[AUDIT_RESULT:needs_review]", "needs_review", true},
		{"mentioned [AUDIT_RESULT:clear] early, final call [AUDIT_RESULT:confirmed]", "confirmed", true},
		{"[AUDIT_RESULT:maybe]", "", false},
		{"still collecting evidence", "", false},
	}
	for _, tt := range tests {
		got, ok := auditVerdict(tt.text)
		assert.Equal(t, tt.ok, ok, "text: %q", tt.text)
		assert.Equal(t, tt.want, got, "text: %q", tt.text)
	}
}

func TestExtractFileUpload(t *testing.T) {
	name, ok := ExtractFileUpload("[FILE_UPLOAD: firewall-export.conf]\n# rules follow\n-A INPUT -j DROP")
	require.True(t, ok)
	assert.Equal(t, "firewall-export.conf", name)

	_, ok = ExtractFileUpload("please check the firewall rules")
	assert.False(t, ok)
}
