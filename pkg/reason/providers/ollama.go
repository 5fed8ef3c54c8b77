package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaEndpoint is the local daemon address.
const DefaultOllamaEndpoint = "http://localhost:11434"

// Ollama streams completions from an Ollama daemon. The daemon speaks the
// plain-completion API, so the conversation is flattened into one prompt.
type Ollama struct {
	httpClient *http.Client
	endpoint   string
	model      string
}

// NewOllama creates the adapter.
func NewOllama(cfg Config) *Ollama {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		httpClient: &http.Client{Timeout: streamTimeout},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		model:      model,
	}
}

// Generate implements Streamer. Responses arrive as JSON lines carrying a
// response fragment and a done flag.
func (o *Ollama) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	body, err := json.Marshal(map[string]any{
		"model":  resolveModel(req.Model, o.model),
		"prompt": FlattenPrompt(req.Messages),
		"stream": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	chunks := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var parsed struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
				Error    string `json:"error"`
			}
			if err := json.Unmarshal(line, &parsed); err != nil {
				continue
			}
			if parsed.Error != "" {
				chunks <- &ErrorChunk{Message: parsed.Error}
				return
			}
			if parsed.Response != "" {
				select {
				case chunks <- &TextChunk{Content: parsed.Response}:
				case <-ctx.Done():
					return
				}
			}
			if parsed.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- &ErrorChunk{Message: err.Error()}
		}
	}()
	return chunks, nil
}

// FlattenPrompt renders a conversation as "ROLE: content" lines ending with
// a dangling "ASSISTANT: " so the completion API continues the dialogue.
func FlattenPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}
	b.WriteString("ASSISTANT: ")
	return b.String()
}
