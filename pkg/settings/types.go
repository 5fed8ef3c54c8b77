package settings

import "strings"

// Snapshot is the operator-managed settings document. The whole document is
// read and replaced as one unit; consumers fetch a fresh snapshot per
// request and never cache it.
type Snapshot struct {
	// LLMProvider selects the default reasoning backend ("openai",
	// "anthropic", "google", "ollama"). LLMModel overrides that
	// provider's default model when set.
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model,omitempty"`

	// Providers holds per-LLM-provider credentials and overrides, keyed by
	// provider name.
	Providers map[string]ProviderConfig `json:"providers,omitempty"`

	// Assets is the SSH-reachable host inventory.
	Assets []Asset `json:"assets,omitempty"`

	// SSHKeys is the private key store referenced by assets.
	SSHKeys []KeyEntry `json:"ssh_keys,omitempty"`

	// MCPProviders holds per-tool-provider connection blocks keyed by
	// provider name ("wazuh", "velociraptor", "falcon", "ssh_exec",
	// "tavily"). A provider absent from the map is treated as enabled
	// with default wiring; an entry with Enabled=false neither lists nor
	// executes.
	MCPProviders map[string]MCPProviderConfig `json:"mcp_providers,omitempty"`
}

// ProviderConfig holds one LLM provider's credentials and overrides.
type ProviderConfig struct {
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Asset is one SSH-reachable host in the inventory.
type Asset struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	OS       string `json:"os,omitempty"` // "linux" default; "windows" disables command rewriting
	Port     int    `json:"port,omitempty"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	SSHKeyID string `json:"ssh_key_id,omitempty"` // references KeyEntry.ID
}

// KeyEntry is one stored SSH private key.
type KeyEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase,omitempty"`
}

// MCPProviderConfig is one tool provider's connection block.
type MCPProviderConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Token   string `json:"token,omitempty"`   // bearer token for authenticated providers
	APIKey  string `json:"api_key,omitempty"` // e.g. the web-search key
}

// FindAsset resolves an asset by IP or by name.
func (s *Snapshot) FindAsset(identifier string) (*Asset, bool) {
	for i := range s.Assets {
		if s.Assets[i].IP == identifier || s.Assets[i].Name == identifier {
			return &s.Assets[i], true
		}
	}
	return nil, false
}

// FindKey resolves a stored SSH key by ID.
func (s *Snapshot) FindKey(id string) (*KeyEntry, bool) {
	for i := range s.SSHKeys {
		if s.SSHKeys[i].ID == id {
			return &s.SSHKeys[i], true
		}
	}
	return nil, false
}

// Provider returns the config block for an LLM provider name.
func (s *Snapshot) Provider(name string) (ProviderConfig, bool) {
	cfg, ok := s.Providers[name]
	return cfg, ok
}

// ProviderEnabled reports whether a tool provider may list and execute.
// Providers without an explicit block default to enabled.
func (s *Snapshot) ProviderEnabled(name string) bool {
	cfg, ok := s.MCPProviders[name]
	if !ok {
		return true
	}
	return cfg.Enabled
}

// MCPProvider returns the connection block for a tool provider name.
func (s *Snapshot) MCPProvider(name string) (MCPProviderConfig, bool) {
	cfg, ok := s.MCPProviders[name]
	return cfg, ok
}

// SecretValues collects every secret stored in the document, for redaction
// before anything derived from a snapshot is persisted or streamed.
func (s *Snapshot) SecretValues() []string {
	var secrets []string
	add := func(v string) {
		if strings.TrimSpace(v) != "" {
			secrets = append(secrets, v)
		}
	}
	for _, p := range s.Providers {
		add(p.APIKey)
	}
	for _, a := range s.Assets {
		add(a.Password)
	}
	for _, k := range s.SSHKeys {
		add(k.PrivateKey)
		add(k.Passphrase)
	}
	for _, m := range s.MCPProviders {
		add(m.Token)
		add(m.APIKey)
	}
	return secrets
}
