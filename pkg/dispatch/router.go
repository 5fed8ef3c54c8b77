package dispatch

import (
	"strings"

	"github.com/prismsec/prism/pkg/tools"
)

// Provider identifiers used for routing, settings lookups, and client
// registration.
const (
	ProviderWazuh        = "wazuh"
	ProviderVelociraptor = "velociraptor"
	ProviderFalcon       = "falcon"

	providerInternal = "internal"
)

// velociraptorTools is the closed set of tool names served by the
// Velociraptor MCP server. Wazuh is the routing default, so every
// Velociraptor name must be enumerated here.
var velociraptorTools = map[string]struct{}{
	"client_info":           {},
	"list_clients":          {},
	"collect_artifact":      {},
	"list_artifacts":        {},
	"get_artifact_results":  {},
	"linux_pslist":          {},
	"linux_netstat":         {},
	"linux_bash_history":    {},
	"windows_pslist":        {},
	"windows_netstat":       {},
	"windows_ntfs_mft":      {},
	"windows_registry_keys": {},
	"windows_prefetch":      {},
}

// routeTool decides which provider serves toolName: internal executors
// first, then the falcon_ prefix, then the Velociraptor name set, and Wazuh
// for everything else.
func routeTool(toolName string) string {
	switch toolName {
	case tools.NameExecuteHostCommand,
		tools.NameUploadFileToHost,
		tools.NameSearchWeb,
		tools.NameDeployMonitoringTask:
		return providerInternal
	}
	if strings.HasPrefix(toolName, "falcon_") {
		return ProviderFalcon
	}
	if _, ok := velociraptorTools[toolName]; ok {
		return ProviderVelociraptor
	}
	return ProviderWazuh
}
