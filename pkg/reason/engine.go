// Package reason runs the agentic dialogue loop: it streams model output to
// the caller, extracts tool calls from assistant turns, executes them
// through the dispatcher, and feeds the results back until the model
// answers in plain text or the step budget runs out.
package reason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/reason/providers"
	"github.com/prismsec/prism/pkg/settings"
)

const (
	// emitBuffer sizes the outbound chunk channel.
	emitBuffer = 32
	// maxConsecutiveFailures aborts the loop when the same tool keeps
	// failing despite the self-correction instruction.
	maxConsecutiveFailures = 3
)

// Request is one dialogue invocation.
//
// History carries the prior conversation; when its last element is the user
// message the caller just appended, the loop drops it and uses Input as the
// authoritative user turn. Provider and Model override the configured
// defaults for this invocation only.
type Request struct {
	Input    string
	Provider string
	Model    string
	Mode     string
	History  []providers.Message
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Get(ctx context.Context) (*settings.Snapshot, error)
}

// ToolDispatcher executes tool calls and advertises the catalog. Execution
// failures come back as result maps with status "error", never as Go errors.
type ToolDispatcher interface {
	Execute(ctx context.Context, toolName string, args any) map[string]any
	ListTools(ctx context.Context, mode string) []models.ToolDefinition
}

// Masker redacts secrets from tool output before it reaches the caller or
// the model.
type Masker interface {
	Mask(ctx context.Context, text string) string
}

// StreamerFactory builds the provider adapter for a dialogue. Tests swap in
// scripted streamers.
type StreamerFactory func(provider string, cfg providers.Config) (providers.Streamer, error)

// Engine drives dialogues. Safe for concurrent use; each Reason call runs
// independently.
type Engine struct {
	settings SettingsSource
	tools    ToolDispatcher
	factory  StreamerFactory
	masker   Masker
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStreamerFactory replaces the provider factory.
func WithStreamerFactory(factory StreamerFactory) Option {
	return func(e *Engine) { e.factory = factory }
}

// WithMasker sets the secret masker applied to tool results.
func WithMasker(masker Masker) Option {
	return func(e *Engine) { e.masker = masker }
}

// NewEngine builds an Engine over the settings store and tool dispatcher.
func NewEngine(source SettingsSource, tools ToolDispatcher, opts ...Option) *Engine {
	e := &Engine{
		settings: source,
		tools:    tools,
		factory:  providers.New,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reason starts a dialogue and returns the chunk stream. The channel
// carries assistant text verbatim plus the [SYSTEM] and [MCP_TOOL_CALL]
// protocol lines, and closes when the dialogue terminates. Mode defaults
// to ops.
func (e *Engine) Reason(ctx context.Context, req Request) (<-chan string, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New("empty input")
	}
	if req.Mode == "" {
		req.Mode = ModeOps
	}
	profile, ok := modeProfiles[req.Mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}

	out := make(chan string, emitBuffer)
	go e.run(ctx, req, profile, out)
	return out, nil
}

func (e *Engine) run(ctx context.Context, req Request, profile modeProfile, out chan<- string) {
	defer close(out)

	emit := func(s string) bool {
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	snapshot, err := e.settings.Get(ctx)
	if errors.Is(err, settings.ErrNotOnboarded) {
		emit("[SYSTEM] System not onboarded. Complete the initial setup before starting a dialogue.")
		return
	}
	if err != nil {
		e.logger.Error("Failed to load settings for dialogue", "error", err)
		emit(fmt.Sprintf("[SYSTEM] Failed to load settings: %s", err))
		return
	}

	provider := providers.Canonical(firstNonEmpty(req.Provider, snapshot.LLMProvider, providers.ProviderOpenAI))
	cfg, _ := snapshot.Provider(provider)
	if providers.RequiresAPIKey(provider) && cfg.APIKey == "" {
		emit(fmt.Sprintf("[SYSTEM] API Key for %s not found. Register the key in Settings and try again.", provider))
		return
	}
	model := firstNonEmpty(req.Model, snapshot.LLMModel, cfg.Model)

	streamer, err := e.factory(provider, providers.Config{
		APIKey:   cfg.APIKey,
		Model:    model,
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		emit(fmt.Sprintf("[SYSTEM] %s", err))
		return
	}

	if filename, ok := ExtractFileUpload(req.Input); ok {
		e.logger.Info("File upload detected in dialogue input", "filename", filename, "mode", req.Mode)
	}

	catalog := e.tools.ListTools(ctx, req.Mode)
	messages := initialMessages(req, catalog)
	e.logger.Info("Dialogue started",
		"mode", req.Mode, "provider", provider, "model", model, "tools", len(catalog))

	var streak failureStreak
	for step := 0; step < profile.maxSteps; step++ {
		content, err := e.streamTurn(ctx, streamer, model, messages, profile.buffered, emit)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Error("LLM stream failed", "provider", provider, "error", err)
			emit(fmt.Sprintf("\n[SYSTEM] LLM provider error: %s", err))
			return
		}
		messages = append(messages, providers.Message{Role: providers.RoleAssistant, Content: content})

		call, hasCall := extractToolCall(content)

		if profile.buffered {
			if verdict, done := auditVerdict(content); done {
				emit(content)
				e.logger.Info("Audit verification finished", "verdict", verdict)
				return
			}
			if !hasCall {
				emit(content)
				return
			}
			if narrative := stripCall(content, call); narrative != "" {
				emit(narrative + "\n")
			}
			emit(fmt.Sprintf("\n[SYSTEM] ▶ %s\n", verifyBanner(content, call)))
		} else {
			// Assistant text already streamed chunk by chunk.
			if profile.designOnly || !hasCall {
				return
			}
			emit(fmt.Sprintf("\n[SYSTEM] 도구 실행 중: %s…\n", call.Tool))
		}

		result := e.tools.Execute(ctx, call.Tool, call.Args)
		if ctx.Err() != nil {
			return
		}
		payload := e.mask(ctx, marshalResult(result))
		emit("[MCP_TOOL_CALL]" + e.mask(ctx, marshalEnvelope(call, result)) + "[/MCP_TOOL_CALL]\n")

		instruction := followUp(req.Mode)
		if isErrorResult(result) {
			if streak.record(call.Tool) >= maxConsecutiveFailures {
				e.logger.Warn("Tool failed repeatedly, aborting dialogue",
					"tool", call.Tool, "failures", maxConsecutiveFailures)
				emit(fmt.Sprintf("\n[SYSTEM] %s 도구가 %d회 연속 실패하여 중단합니다.\n", call.Tool, maxConsecutiveFailures))
				return
			}
			instruction = selfCorrection
		} else {
			streak.reset()
		}

		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("TOOL RESULT (%s): %s\n\n%s", call.Tool, payload, instruction),
		})
	}

	emit(fmt.Sprintf("\n[SYSTEM] 최대 도구 실행 단계(%d)에 도달하여 중단합니다.\n", profile.maxSteps))
}

// streamTurn collects one assistant turn. In streaming modes every text
// chunk is forwarded as it arrives; in buffered mode the caller decides
// what to surface.
func (e *Engine) streamTurn(ctx context.Context, streamer providers.Streamer, model string, messages []providers.Message, buffered bool, emit func(string) bool) (string, error) {
	chunks, err := streamer.Generate(ctx, &providers.Request{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *providers.TextChunk:
			b.WriteString(c.Content)
			if !buffered && !emit(c.Content) {
				return b.String(), ctx.Err()
			}
		case *providers.ErrorChunk:
			return b.String(), errors.New(c.Message)
		}
	}
	return b.String(), nil
}

// initialMessages assembles the prompt window: system prompt, prior
// history, then the user input. A trailing user message in the history is
// the input the caller already appended, so it is dropped in favour of
// Input.
func initialMessages(req Request, catalog []models.ToolDefinition) []providers.Message {
	history := req.History
	if n := len(history); n > 0 && history[n-1].Role == providers.RoleUser {
		history = history[:n-1]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: systemPrompt(req.Mode, catalog)})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: req.Input})
	return messages
}

// verifyBanner labels an audit_verify execution step with the first line of
// the model's narration, falling back to the tool name.
func verifyBanner(content string, call *toolCall) string {
	for _, line := range strings.Split(stripCall(content, call), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return call.Tool
}

func (e *Engine) mask(ctx context.Context, s string) string {
	if e.masker == nil {
		return s
	}
	return e.masker.Mask(ctx, s)
}

func marshalResult(result map[string]any) string {
	return mustJSON(result)
}

func marshalEnvelope(call *toolCall, result map[string]any) string {
	return mustJSON(map[string]any{
		"tool":   call.Tool,
		"args":   call.Args,
		"result": result,
	})
}

// isErrorResult recognises the errors-as-content convention: internal
// executors report {"status": "error"}, remote MCP servers set isError.
func isErrorResult(result map[string]any) bool {
	if result == nil {
		return false
	}
	if s, ok := result["status"].(string); ok && s == "error" {
		return true
	}
	if b, ok := result["isError"].(bool); ok && b {
		return true
	}
	return false
}

// failureStreak counts consecutive failures of one tool; a different tool
// or a success resets it.
type failureStreak struct {
	tool  string
	count int
}

func (f *failureStreak) record(tool string) int {
	if f.tool == tool {
		f.count++
	} else {
		f.tool, f.count = tool, 1
	}
	return f.count
}

func (f *failureStreak) reset() {
	f.tool, f.count = "", 0
}

// mustJSON marshals v, falling back to the quoted string form when v holds
// something encoding/json cannot represent.
func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
