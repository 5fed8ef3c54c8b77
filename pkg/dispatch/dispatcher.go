// Package dispatch routes tool calls between the internal executors and the
// remote MCP providers, and assembles the merged tool catalog the reasoning
// loop works from.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/prismsec/prism/pkg/mcp"
	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/settings"
	"github.com/prismsec/prism/pkg/tools"
)

// Endpoint resolution: stored settings win, then the environment, then the
// well-known internal port for each provider.
const (
	envWazuhURL        = "PRISM_WAZUH_MCP_URL"
	envVelociraptorURL = "PRISM_VELOCIRAPTOR_MCP_URL"
	envFalconURL       = "PRISM_FALCON_MCP_URL"

	defaultWazuhURL        = "http://localhost:8000/mcp"
	defaultVelociraptorURL = "http://localhost:8001/mcp"
	defaultFalconURL       = "http://localhost:8002/mcp"
)

type remoteProvider struct {
	name       string
	display    string
	envVar     string
	defaultURL string
}

// remoteProviders lists the registrable providers in catalog order.
var remoteProviders = []remoteProvider{
	{ProviderWazuh, "Wazuh", envWazuhURL, defaultWazuhURL},
	{ProviderVelociraptor, "Velociraptor", envVelociraptorURL, defaultVelociraptorURL},
	{ProviderFalcon, "Falcon", envFalconURL, defaultFalconURL},
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Snapshot, error)
}

// HostExecutor runs a shell command on an inventory asset.
type HostExecutor interface {
	Execute(ctx context.Context, target, command string) map[string]any
}

// FileUploader writes a file onto an inventory asset.
type FileUploader interface {
	Upload(ctx context.Context, target, remotePath, contentB64 string) map[string]any
}

// Searcher answers a free-text web query.
type Searcher interface {
	Search(ctx context.Context, query string) map[string]any
}

// TaskDeployer persists a designed monitoring task.
type TaskDeployer interface {
	Deploy(ctx context.Context, args map[string]any) map[string]any
}

// Dispatcher routes tool calls and merges tool catalogs. Safe for concurrent
// use; the reasoning loop and the scheduler share one instance.
type Dispatcher struct {
	settings SettingsSource
	ssh      HostExecutor
	uploader FileUploader
	searcher Searcher
	deployer TaskDeployer
	logger   *slog.Logger

	mu       sync.Mutex
	clients  map[string]*mcp.Client
	schemas  map[string]map[string]any
	compiled map[string]*jsonschema.Schema
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(src SettingsSource, ssh HostExecutor, uploader FileUploader, searcher Searcher, deployer TaskDeployer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		settings: src,
		ssh:      ssh,
		uploader: uploader,
		searcher: searcher,
		deployer: deployer,
		logger:   logger,
		clients:  make(map[string]*mcp.Client),
		schemas:  make(map[string]map[string]any),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Execute routes one tool call. Every failure — unknown tool, disabled
// provider, argument validation, transport error — comes back as an
// error-status result map so the reasoning loop can read it and
// self-correct.
func (d *Dispatcher) Execute(ctx context.Context, toolName string, rawArgs any) map[string]any {
	args := NormalizeArgs(rawArgs)

	provider := routeTool(toolName)
	if provider == providerInternal {
		return d.executeInternal(ctx, toolName, args)
	}

	snapshot := d.snapshot(ctx)
	if !snapshot.ProviderEnabled(provider) {
		return errorResult("provider %s is disabled in settings", provider)
	}

	client, err := d.client(provider, snapshot)
	if err != nil {
		return errorResult("failed to register %s client: %s", provider, err)
	}

	if err := d.validate(toolName, args); err != nil {
		return errorResult("invalid arguments for %s: %s", toolName, err)
	}

	d.logger.Info("Dispatching remote tool", "tool", toolName, "provider", provider)
	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return errorResult("%s", err)
	}
	return result
}

func (d *Dispatcher) executeInternal(ctx context.Context, toolName string, args map[string]any) map[string]any {
	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}
	switch toolName {
	case tools.NameExecuteHostCommand:
		return d.ssh.Execute(ctx, str("target"), str("command"))
	case tools.NameUploadFileToHost:
		content := str("content_b64")
		if content == "" {
			content = str("content") // some designs name the payload field plainly
		}
		return d.uploader.Upload(ctx, str("target"), str("remote_path"), content)
	case tools.NameSearchWeb:
		return d.searcher.Search(ctx, str("query"))
	case tools.NameDeployMonitoringTask:
		return d.deployer.Deploy(ctx, args)
	}
	return errorResult("unknown internal tool %q", toolName)
}

// ListTools returns the merged catalog: internal tools first, then every
// enabled remote provider's tools tagged with its display name. An
// unreachable provider contributes an _offline_ placeholder instead of
// disappearing, so callers can surface provider health. mode gates the
// deploy tool to the builder modes.
func (d *Dispatcher) ListTools(ctx context.Context, mode string) []models.ToolDefinition {
	snapshot := d.snapshot(ctx)
	defs := internalToolDefs(snapshot, mode)

	for _, p := range remoteProviders {
		if !snapshot.ProviderEnabled(p.name) {
			continue
		}
		client, err := d.client(p.name, snapshot)
		if err != nil {
			d.logger.Warn("Failed to register MCP client", "provider", p.name, "error", err)
			defs = append(defs, offlineTool(p))
			continue
		}
		remote, err := client.ListTools(ctx)
		if err != nil {
			d.logger.Warn("Provider catalog unavailable", "provider", p.name, "error", err)
			defs = append(defs, offlineTool(p))
			continue
		}
		for _, def := range remote {
			def.Provider = p.display
			d.cacheSchema(def.Name, def.InputSchema)
			defs = append(defs, def)
		}
	}
	return defs
}

// Probe attempts a handshake and catalog fetch against every enabled remote
// provider, reporting reachability per provider name.
func (d *Dispatcher) Probe(ctx context.Context) map[string]bool {
	snapshot := d.snapshot(ctx)
	health := make(map[string]bool, len(remoteProviders))
	for _, p := range remoteProviders {
		if !snapshot.ProviderEnabled(p.name) {
			continue
		}
		client, err := d.client(p.name, snapshot)
		if err != nil {
			health[p.name] = false
			continue
		}
		_, err = client.ListTools(ctx)
		health[p.name] = err == nil
	}
	return health
}

func offlineTool(p remoteProvider) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "_offline_" + p.name,
		Description: fmt.Sprintf("%s MCP server is unreachable; its tools are temporarily unavailable.", p.display),
		Provider:    p.display,
		Offline:     true,
	}
}

// snapshot loads settings, degrading to defaults before onboarding.
func (d *Dispatcher) snapshot(ctx context.Context) *settings.Snapshot {
	snap, err := d.settings.Get(ctx)
	if err != nil {
		if !errors.Is(err, settings.ErrNotOnboarded) {
			d.logger.Warn("Failed to load settings, using defaults", "error", err)
		}
		return &settings.Snapshot{}
	}
	return snap
}

// client returns the provider's MCP client, registering it on first use.
func (d *Dispatcher) client(provider string, snapshot *settings.Snapshot) (*mcp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[provider]; ok {
		return c, nil
	}

	endpoint := providerEndpoint(provider, snapshot)
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for provider %s", provider)
	}
	opts := []mcp.Option{mcp.WithLogger(d.logger)}
	if cfg, ok := snapshot.MCPProvider(provider); ok && cfg.Token != "" {
		opts = append(opts, mcp.WithBearerToken(cfg.Token))
	}
	c, err := mcp.NewClient(provider, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	d.clients[provider] = c
	d.logger.Info("MCP client registered", "provider", provider, "endpoint", endpoint)
	return c, nil
}

// providerEndpoint resolves a provider URL: settings, then environment, then
// the well-known default.
func providerEndpoint(provider string, snapshot *settings.Snapshot) string {
	if cfg, ok := snapshot.MCPProvider(provider); ok && cfg.URL != "" {
		return cfg.URL
	}
	for _, p := range remoteProviders {
		if p.name != provider {
			continue
		}
		if v := os.Getenv(p.envVar); v != "" {
			return v
		}
		return p.defaultURL
	}
	return ""
}

func (d *Dispatcher) cacheSchema(tool string, schema map[string]any) {
	if len(schema) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemas[tool] = schema
	delete(d.compiled, tool)
}

// validate checks args against the tool's cached schema. Tools never listed,
// or listed without a schema, pass — the remote side stays the authority.
func (d *Dispatcher) validate(tool string, args map[string]any) error {
	d.mu.Lock()
	raw, ok := d.schemas[tool]
	compiled := d.compiled[tool]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if compiled == nil {
		var err error
		compiled, err = compileSchema(raw)
		if err != nil {
			// A schema the provider advertises but we cannot compile
			// must not block execution.
			d.logger.Warn("Tool schema does not compile", "tool", tool, "error", err)
			return nil
		}
		d.mu.Lock()
		d.compiled[tool] = compiled
		d.mu.Unlock()
	}

	payload, err := plainJSON(args)
	if err != nil {
		return err
	}
	return compiled.Validate(payload)
}

func errorResult(format string, args ...any) map[string]any {
	return map[string]any{
		"status":  "error",
		"message": fmt.Sprintf(format, args...),
	}
}
