package models

// ToolDefinition describes one callable tool in the merged catalog the
// dispatcher advertises to the reasoning loop.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	// Provider is a human-readable origin tag ("SSH Exec", "Web Search",
	// "Wazuh", ...). Internal tools always carry one.
	Provider string `json:"provider,omitempty"`
	// Offline marks a placeholder entry emitted when a provider could not
	// be reached; its Name is "_offline_<provider>".
	Offline bool `json:"_offline,omitempty"`
}
