package reason

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/reason/providers"
	"github.com/prismsec/prism/pkg/settings"
)

// scriptedStreamer plays back canned assistant turns, one per Generate
// call, splitting each turn into two chunks to exercise streaming. When the
// script runs out the last turn repeats.
type scriptedStreamer struct {
	mu       sync.Mutex
	turns    []string
	calls    int
	requests []*providers.Request
}

func (s *scriptedStreamer) Generate(ctx context.Context, req *providers.Request) (<-chan providers.Chunk, error) {
	s.mu.Lock()
	clone := &providers.Request{Model: req.Model, Messages: make([]providers.Message, len(req.Messages))}
	copy(clone.Messages, req.Messages)
	s.requests = append(s.requests, clone)

	turn := ""
	if len(s.turns) > 0 {
		idx := s.calls
		if idx >= len(s.turns) {
			idx = len(s.turns) - 1
		}
		turn = s.turns[idx]
	}
	s.calls++
	s.mu.Unlock()

	out := make(chan providers.Chunk, 4)
	go func() {
		defer close(out)
		runes := []rune(turn)
		half := len(runes) / 2
		for _, part := range []string{string(runes[:half]), string(runes[half:])} {
			if part == "" {
				continue
			}
			select {
			case out <- &providers.TextChunk{Content: part}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *scriptedStreamer) request(t *testing.T, i int) *providers.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.requests), i)
	return s.requests[i]
}

// erroringStreamer emits one ErrorChunk.
type erroringStreamer struct{ message string }

func (s *erroringStreamer) Generate(ctx context.Context, req *providers.Request) (<-chan providers.Chunk, error) {
	out := make(chan providers.Chunk, 1)
	out <- &providers.ErrorChunk{Message: s.message}
	close(out)
	return out, nil
}

type execRecord struct {
	Tool string
	Args any
}

// scriptedDispatcher records executions and plays back canned results.
type scriptedDispatcher struct {
	mu      sync.Mutex
	catalog []models.ToolDefinition
	results []map[string]any
	execs   []execRecord
	modes   []string
}

func (d *scriptedDispatcher) Execute(ctx context.Context, toolName string, args any) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, execRecord{Tool: toolName, Args: args})
	if len(d.results) == 0 {
		return map[string]any{"status": "success"}
	}
	result := d.results[0]
	if len(d.results) > 1 {
		d.results = d.results[1:]
	}
	return result
}

func (d *scriptedDispatcher) ListTools(ctx context.Context, mode string) []models.ToolDefinition {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modes = append(d.modes, mode)
	return d.catalog
}

func (d *scriptedDispatcher) execCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.execs)
}

// staticSource serves a fixed snapshot.
type staticSource struct {
	snapshot *settings.Snapshot
	err      error
}

func (s staticSource) Get(ctx context.Context) (*settings.Snapshot, error) {
	return s.snapshot, s.err
}

func onboardedSource() staticSource {
	return staticSource{snapshot: &settings.Snapshot{
		LLMProvider: "openai",
		Providers: map[string]settings.ProviderConfig{
			"openai":    {APIKey: "sk-test", Model: "gpt-4o"},
			"anthropic": {},
		},
	}}
}

func testCatalog() []models.ToolDefinition {
	return []models.ToolDefinition{
		{Name: "get_agents", Provider: "Wazuh", Description: "List registered agents"},
		{Name: "execute_host_command", Provider: "SSH Exec", Description: "Run a command on a host"},
	}
}

func newTestEngine(t *testing.T, source SettingsSource, dispatcher ToolDispatcher, streamer providers.Streamer, opts ...Option) *Engine {
	t.Helper()
	factory := func(provider string, cfg providers.Config) (providers.Streamer, error) {
		return streamer, nil
	}
	opts = append([]Option{WithStreamerFactory(factory)}, opts...)
	return NewEngine(source, dispatcher, opts...)
}

func drain(t *testing.T, ch <-chan string) string {
	t.Helper()
	var b strings.Builder
	for chunk := range ch {
		b.WriteString(chunk)
	}
	return b.String()
}

// inOrder asserts that needles appear in haystack in the given order.
func inOrder(t *testing.T, haystack string, needles ...string) {
	t.Helper()
	pos := 0
	for _, needle := range needles {
		idx := strings.Index(haystack[pos:], needle)
		require.GreaterOrEqual(t, idx, 0, "expected %q after position %d in:\n%s", needle, pos, haystack)
		pos += idx + len(needle)
	}
}

func TestReasonValidatesRequest(t *testing.T) {
	engine := newTestEngine(t, onboardedSource(), &scriptedDispatcher{}, &scriptedStreamer{})

	_, err := engine.Reason(context.Background(), Request{Input: "   "})
	assert.EqualError(t, err, "empty input")

	_, err = engine.Reason(context.Background(), Request{Input: "hello", Mode: "interrogation"})
	assert.ErrorContains(t, err, "unknown mode")
}

func TestReasonPlainAnswer(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{"No anomalies across the fleet."}}
	dispatcher := &scriptedDispatcher{catalog: testCatalog()}

	var gotProvider string
	var gotCfg providers.Config
	factory := func(provider string, cfg providers.Config) (providers.Streamer, error) {
		gotProvider, gotCfg = provider, cfg
		return streamer, nil
	}
	engine := NewEngine(onboardedSource(), dispatcher, WithStreamerFactory(factory))

	out, err := engine.Reason(context.Background(), Request{Input: "anything unusual today?"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Equal(t, "No anomalies across the fleet.", text)
	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "sk-test", gotCfg.APIKey)
	assert.Equal(t, "gpt-4o", gotCfg.Model)
	assert.Zero(t, dispatcher.execCount())

	req := streamer.request(t, 0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, providers.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "get_agents")
	assert.Contains(t, req.Messages[0].Content, "execute_host_command")
	assert.Equal(t, providers.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "anything unusual today?", req.Messages[1].Content)
}

func TestReasonExecutesToolAndFeedsResultBack(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		"Checking the agents now.\n" + `{"tool": "get_agents", "args": {"status": "active"}}`,
		"Two agents are active and healthy.",
	}}
	dispatcher := &scriptedDispatcher{
		catalog: testCatalog(),
		results: []map[string]any{{"status": "success", "count": float64(2)}},
	}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{Input: "how many agents are up?"})
	require.NoError(t, err)
	text := drain(t, out)

	inOrder(t, text,
		"Checking the agents now.",
		"[SYSTEM] 도구 실행 중: get_agents…",
		"[MCP_TOOL_CALL]",
		`"tool":"get_agents"`,
		`"status":"success"`,
		"[/MCP_TOOL_CALL]",
		"Two agents are active and healthy.",
	)

	require.Equal(t, 1, dispatcher.execCount())
	assert.Equal(t, "get_agents", dispatcher.execs[0].Tool)
	assert.Equal(t, map[string]any{"status": "active"}, dispatcher.execs[0].Args)

	second := streamer.request(t, 1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, providers.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "TOOL RESULT (get_agents): "), last.Content)
	assert.Contains(t, last.Content, `"count":2`)
	assert.Contains(t, last.Content, "Call another tool if you need more data")
}

func TestReasonSelfCorrectionOnFailure(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		`{"tool": "get_agents", "args": {"sort": ["id"]}}`,
		`{"tool": "get_agents", "args": {"sort": "id"}}`,
		"Sorted agent list retrieved.",
	}}
	dispatcher := &scriptedDispatcher{
		catalog: testCatalog(),
		results: []map[string]any{
			{"status": "error", "message": "invalid arguments for get_agents: sort must be a string"},
			{"status": "success"},
		},
	}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{Input: "list agents sorted by id"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Contains(t, text, "Sorted agent list retrieved.")
	assert.Equal(t, 2, dispatcher.execCount())

	second := streamer.request(t, 1)
	retryPrompt := second.Messages[len(second.Messages)-1].Content
	assert.Contains(t, retryPrompt, "invalid arguments for get_agents")
	assert.Contains(t, retryPrompt, "Analyze the validation/syntax error above and immediately attempt to fix it by calling the tool again with corrected parameters")

	third := streamer.request(t, 2)
	successPrompt := third.Messages[len(third.Messages)-1].Content
	assert.NotContains(t, successPrompt, "validation/syntax error")
}

func TestReasonAbortsAfterRepeatedFailures(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		`{"tool": "restart_agent", "args": {"agent_id": "003"}}`,
	}}
	dispatcher := &scriptedDispatcher{
		catalog: testCatalog(),
		results: []map[string]any{{"status": "error", "message": "agent unreachable"}},
	}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{Input: "restart agent 003"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Equal(t, 3, dispatcher.execCount())
	assert.Contains(t, text, "restart_agent 도구가 3회 연속 실패하여 중단합니다.")
	assert.NotContains(t, text, "최대 도구 실행 단계")
}

func TestReasonStepBudget(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		`{"tool": "get_agents", "args": {}}`,
	}}
	dispatcher := &scriptedDispatcher{catalog: testCatalog()}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{Input: "poll forever"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Equal(t, 10, dispatcher.execCount())
	assert.Contains(t, text, "[SYSTEM] 최대 도구 실행 단계(10)에 도달하여 중단합니다.")
}

func TestReasonDesignOnlyModeSkipsExecution(t *testing.T) {
	proposal := `{"tool_name": "linux_pslist", "tool_args": {"client_id": "C.1"}, "reason": "process snapshot"}`
	streamer := &scriptedStreamer{turns: []string{proposal}}
	dispatcher := &scriptedDispatcher{catalog: testCatalog()}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{
		Input: "watch for suspicious processes",
		Mode:  ModeBuilderSelection,
	})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Equal(t, proposal, text)
	assert.Zero(t, dispatcher.execCount())
	assert.Equal(t, 1, streamer.calls)
	require.NotEmpty(t, dispatcher.modes)
	assert.Equal(t, ModeBuilderSelection, dispatcher.modes[0])
}

func TestReasonAuditVerifyBuffersNarrative(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		"Re-checking the flagged process on web-01.\n" + `{"tool": "linux_pslist", "args": {"pid": 4242}}`,
		"The process is no longer present.\n[AUDIT_RESULT:clear]",
	}}
	dispatcher := &scriptedDispatcher{
		catalog: testCatalog(),
		results: []map[string]any{{"status": "success", "rows": []any{}}},
	}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{
		Input: "verify finding: unsigned binary running as root",
		Mode:  ModeAuditVerify,
	})
	require.NoError(t, err)
	text := drain(t, out)

	inOrder(t, text,
		"Re-checking the flagged process on web-01.",
		"[SYSTEM] ▶ Re-checking the flagged process on web-01.",
		"[MCP_TOOL_CALL]",
		"[/MCP_TOOL_CALL]",
		"[AUDIT_RESULT:clear]",
	)
	// The raw tool-call JSON is replaced by the banner; only the marshalled
	// envelope mentions the tool.
	assert.NotContains(t, text, `{"tool": "linux_pslist"`)
	assert.Equal(t, 1, dispatcher.execCount())
}

func TestReasonNotOnboarded(t *testing.T) {
	factoryCalled := false
	factory := func(provider string, cfg providers.Config) (providers.Streamer, error) {
		factoryCalled = true
		return &scriptedStreamer{}, nil
	}
	engine := NewEngine(staticSource{err: settings.ErrNotOnboarded}, &scriptedDispatcher{}, WithStreamerFactory(factory))

	out, err := engine.Reason(context.Background(), Request{Input: "hello"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Contains(t, text, "[SYSTEM] System not onboarded.")
	assert.False(t, factoryCalled)
}

func TestReasonMissingAPIKey(t *testing.T) {
	factoryCalled := false
	factory := func(provider string, cfg providers.Config) (providers.Streamer, error) {
		factoryCalled = true
		return &scriptedStreamer{}, nil
	}
	engine := NewEngine(onboardedSource(), &scriptedDispatcher{}, WithStreamerFactory(factory))

	// "claude" canonicalises to anthropic, which has no stored key.
	out, err := engine.Reason(context.Background(), Request{Input: "hello", Provider: "claude"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Contains(t, text, "[SYSTEM] API Key for anthropic not found.")
	assert.False(t, factoryCalled)
}

func TestReasonOllamaRunsWithoutKey(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{"local model says hi"}}
	dispatcher := &scriptedDispatcher{}
	source := staticSource{snapshot: &settings.Snapshot{LLMProvider: "ollama"}}
	engine := newTestEngine(t, source, dispatcher, streamer)

	out, err := engine.Reason(context.Background(), Request{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "local model says hi", drain(t, out))
}

func TestReasonProviderErrorSurfaces(t *testing.T) {
	engine := newTestEngine(t, onboardedSource(), &scriptedDispatcher{}, &erroringStreamer{message: "rate limit exceeded"})

	out, err := engine.Reason(context.Background(), Request{Input: "hello"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.Contains(t, text, "[SYSTEM] LLM provider error: rate limit exceeded")
}

func TestReasonHistoryWindow(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{"answer"}}
	engine := newTestEngine(t, onboardedSource(), &scriptedDispatcher{}, streamer)

	// Callers append the current input to history before invoking; the
	// trailing user message must not be doubled.
	history := []providers.Message{
		{Role: providers.RoleUser, Content: "what hosts do we have?"},
		{Role: providers.RoleAssistant, Content: "web-01 and db-01."},
		{Role: providers.RoleUser, Content: "is web-01 patched?"},
	}
	out, err := engine.Reason(context.Background(), Request{Input: "is web-01 patched?", History: history})
	require.NoError(t, err)
	drain(t, out)

	req := streamer.request(t, 0)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, providers.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "what hosts do we have?", req.Messages[1].Content)
	assert.Equal(t, "web-01 and db-01.", req.Messages[2].Content)
	assert.Equal(t, "is web-01 patched?", req.Messages[3].Content)
}

type upperMasker struct{}

func (upperMasker) Mask(ctx context.Context, text string) string {
	return strings.ReplaceAll(text, "s3cr3t", "[MASKED]")
}

func TestReasonMasksToolResults(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{
		`{"tool": "get_config", "args": {}}`,
		"done",
	}}
	dispatcher := &scriptedDispatcher{
		results: []map[string]any{{"status": "success", "password": "s3cr3t"}},
	}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer, WithMasker(upperMasker{}))

	out, err := engine.Reason(context.Background(), Request{Input: "show config"})
	require.NoError(t, err)
	text := drain(t, out)

	assert.NotContains(t, text, "s3cr3t")
	assert.Contains(t, text, "[MASKED]")

	second := streamer.request(t, 1)
	assert.NotContains(t, second.Messages[len(second.Messages)-1].Content, "s3cr3t")
}

func TestReasonCancelledContextStopsLoop(t *testing.T) {
	streamer := &scriptedStreamer{turns: []string{`{"tool": "get_agents", "args": {}}`}}
	dispatcher := &scriptedDispatcher{}
	engine := newTestEngine(t, onboardedSource(), dispatcher, streamer)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := engine.Reason(ctx, Request{Input: "poll forever"})
	require.NoError(t, err)

	// Consume only the first chunk, then cancel; the loop must wind down
	// and close the channel instead of looping to the budget.
	<-out
	cancel()
	drain(t, out)
	assert.Less(t, dispatcher.execCount(), 10)
}
