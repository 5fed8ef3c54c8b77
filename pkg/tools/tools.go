// Package tools implements the executors the dispatcher serves without a
// remote provider: SSH command execution, SFTP upload, web search, and
// monitoring-task deployment. Executors follow the tool-result convention —
// failures come back as error-status result maps, never as Go errors, so the
// reasoning loop can read them and self-correct.
package tools

import "fmt"

// Internal tool names. The dispatcher routes these before any remote
// provider is considered.
const (
	NameExecuteHostCommand   = "execute_host_command"
	NameUploadFileToHost     = "upload_file_to_host"
	NameSearchWeb            = "search_web"
	NameDeployMonitoringTask = "deploy_monitoring_task"
)

func errorResult(format string, args ...any) map[string]any {
	return map[string]any{
		"status":  "error",
		"message": fmt.Sprintf(format, args...),
	}
}
