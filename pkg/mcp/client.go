// Package mcp implements the JSON-RPC 2.0 client used to reach remote tool
// providers over the MCP Streamable-HTTP transport.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prismsec/prism/pkg/models"
)

const (
	// protocolVersion is the MCP revision spoken during the handshake.
	protocolVersion = "2024-11-05"

	// clientName and clientVersion identify the dispatcher to providers.
	// Wire constants: providers whitelist on the name, so the build commit
	// stays out of the handshake.
	clientName    = "prism-dispatcher"
	clientVersion = "1.0"

	// sessionHeader carries the provider-assigned session identifier.
	sessionHeader = "Mcp-Session-Id"

	// requestTimeout bounds every HTTP exchange with a provider.
	requestTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 16 << 20
)

// Client is a JSON-RPC client for one remote tool provider.
// Thread-safe: the session handshake is serialized behind a mutex, and tool
// calls may arrive from the reasoning loop and the scheduler concurrently.
type Client struct {
	name       string
	endpoint   *url.URL
	hostHeader string
	httpClient *http.Client
	logger     *slog.Logger

	// Session state. A failed exchange clears it so the next call
	// re-handshakes instead of reusing a session the provider dropped.
	mu          sync.Mutex
	initialized bool
	sessionID   string

	nextID atomic.Int64
}

// Option customizes a Client.
type Option func(*Client)

// WithBearerToken adds an Authorization header to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = &bearerTokenTransport{base: base, token: token}
	}
}

// WithHTTPClient replaces the underlying HTTP client (testing, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the provider at rawURL. name tags log lines
// and error messages.
func NewClient(name, rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid provider URL %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid provider URL %q: missing host", rawURL)
	}

	c := &Client{
		name:       name,
		endpoint:   u,
		hostHeader: hostOverride(u),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the provider name this client was created for.
func (c *Client) Name() string {
	return c.name
}

// hostOverride computes the Host header sent with every request. The
// providers sit behind reverse proxies that only admit requests addressed to
// localhost, whatever name or address the dispatcher actually dialed.
func hostOverride(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return "localhost:" + port
}

// EnsureSession performs the initialize handshake once. Safe to call before
// every operation; an established session returns immediately.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}

	resp, header, err := c.post(ctx, "initialize", params, c.nextID.Add(1), "")
	if err != nil {
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize %s: %w", c.name, resp.Error)
	}

	// The session header is optional: providers without session tracking
	// still serve tool calls.
	c.sessionID = header.Get(sessionHeader)
	c.initialized = true

	// Acknowledge the handshake. Fire-and-forget: the notification is
	// advisory and its failure must not tear down a good session.
	if _, _, err := c.post(ctx, "notifications/initialized", map[string]any{}, 0, c.sessionID); err != nil {
		c.logger.Debug("initialized notification failed",
			"provider", c.name, "error", err)
	}

	c.logger.Info("MCP session established",
		"provider", c.name, "has_session_id", c.sessionID != "")
	return nil
}

// ClearSession drops the session so the next operation re-handshakes.
func (c *Client) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.sessionID = ""
}

// HasSession reports whether a handshake has completed.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ListTools fetches the provider's tool catalog. A provider that streams no
// decodable payload is treated as advertising zero tools; any other failure
// clears the session so the next call re-handshakes.
func (c *Client) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}

	resp, _, err := c.post(ctx, "tools/list", map[string]any{}, c.nextID.Add(1), c.session())
	if err != nil {
		if errors.Is(err, errNoDecodablePayload) {
			return []models.ToolDefinition{}, nil
		}
		c.ClearSession()
		return nil, fmt.Errorf("list tools from %s: %w", c.name, err)
	}
	if resp.Error != nil {
		c.ClearSession()
		return nil, fmt.Errorf("list tools from %s: %w", c.name, resp.Error)
	}

	var payload struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &payload); err != nil {
			c.ClearSession()
			return nil, fmt.Errorf("decode tools from %s: %w", c.name, err)
		}
	}

	tools := make([]models.ToolDefinition, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		tools = append(tools, models.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool executes one tool on the provider and returns the decoded result
// object. Transport failures clear the session and propagate to the caller;
// the dispatcher decides how to surface them.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	params := map[string]any{"name": name, "arguments": args}
	resp, _, err := c.post(ctx, "tools/call", params, c.nextID.Add(1), c.session())
	if err != nil {
		c.ClearSession()
		return nil, fmt.Errorf("call %s on %s: %w", name, c.name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("call %s on %s: %w", name, c.name, resp.Error)
	}

	var result map[string]any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("decode result of %s on %s: %w", name, c.name, err)
		}
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// post sends one JSON-RPC message. id 0 marks a notification: the response
// body is discarded and only transport-level failures are reported.
func (c *Client) post(ctx context.Context, method string, params any, id int64, session string) (*response, http.Header, error) {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	req.Host = c.hostHeader

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, res.Header, fmt.Errorf("%s returned HTTP %d: %s", method, res.StatusCode, bytes.TrimSpace(snippet))
	}

	if id == 0 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return nil, res.Header, nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, res.Header, fmt.Errorf("read %s response: %w", method, err)
	}

	resp, err := decodeRPCResponse(res.Header.Get("Content-Type"), raw)
	if err != nil {
		return nil, res.Header, err
	}
	return resp, res.Header, nil
}
