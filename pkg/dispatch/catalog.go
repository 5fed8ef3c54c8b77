package dispatch

import (
	"strings"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/settings"
	"github.com/prismsec/prism/pkg/tools"
)

// Display names tagged onto catalog entries.
const (
	providerSSHExec     = "SSH Exec"
	providerWebSearch   = "Web Search"
	providerTaskBuilder = "Task Builder"
)

// Settings keys gating the internal executors.
const (
	settingSSHExec = "ssh_exec"
	settingTavily  = "tavily"
)

// internalToolDefs returns the built-in catalog entries honouring the
// per-provider enable flags. deploy_monitoring_task is only advertised to
// builder modes; everywhere else the model must not see it.
func internalToolDefs(snapshot *settings.Snapshot, mode string) []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, 4)

	if snapshot.ProviderEnabled(settingSSHExec) {
		defs = append(defs,
			models.ToolDefinition{
				Name:        tools.NameExecuteHostCommand,
				Description: "Execute a shell command on a registered asset over SSH. target is the asset IP or name from the inventory. Linux commands get sudo handling automatically; Windows assets receive the command verbatim.",
				Provider:    providerSSHExec,
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"target":  map[string]any{"type": "string", "description": "Asset IP or name"},
						"command": map[string]any{"type": "string", "description": "Shell command to run"},
					},
					"required": []any{"target", "command"},
				},
			},
			models.ToolDefinition{
				Name:        tools.NameUploadFileToHost,
				Description: "Upload a file to a registered asset over SFTP. content_b64 is the base64-encoded file body; remote_path is the absolute destination path.",
				Provider:    providerSSHExec,
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"target":      map[string]any{"type": "string", "description": "Asset IP or name"},
						"remote_path": map[string]any{"type": "string", "description": "Absolute destination path"},
						"content_b64": map[string]any{"type": "string", "description": "Base64-encoded file content"},
					},
					"required": []any{"target", "remote_path", "content_b64"},
				},
			},
		)
	}

	if snapshot.ProviderEnabled(settingTavily) {
		defs = append(defs, models.ToolDefinition{
			Name:        tools.NameSearchWeb,
			Description: "Search the web for up-to-date security information (CVEs, advisories, vendor docs) and return a text summary.",
			Provider:    providerWebSearch,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query"},
				},
				"required": []any{"query"},
			},
		})
	}

	if strings.HasPrefix(mode, "builder") {
		defs = append(defs, models.ToolDefinition{
			Name:        tools.NameDeployMonitoringTask,
			Description: "Deploy a designed monitoring task. tool_args must not contain target or agent_id; targets are injected at run time from the user's selection.",
			Provider:    providerTaskBuilder,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":               map[string]any{"type": "string", "description": "Human-readable task title"},
					"tool_name":           map[string]any{"type": "string", "description": "Tool the task invokes on each run"},
					"tool_args":           map[string]any{"type": "object", "description": "Arguments passed to the tool"},
					"threshold_condition": map[string]any{"description": "Threshold document (JSON object or its string encoding)"},
					"interval_minutes":    map[string]any{"type": "integer", "minimum": 1, "description": "Run cadence in minutes"},
					"target_agent":        map[string]any{"description": "\"all\", one identifier, or a list of identifiers"},
					"action_tool_name":    map[string]any{"type": "string", "description": "Tool to run when the threshold fires red"},
					"action_tool_args":    map[string]any{"description": "Action arguments; {{path}} placeholders are filled from the triggering result"},
				},
				"required": []any{"title", "tool_name"},
			},
		})
	}

	return defs
}
