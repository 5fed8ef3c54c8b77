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

const (
	defaultGoogleEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	googleMaxOutputTokens = 8192
)

// Google streams Gemini responses over the REST SSE endpoint.
type Google struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewGoogle creates the adapter. cfg.Endpoint overrides the API base URL.
func NewGoogle(cfg Config) *Google {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGoogleEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGoogleModel
	}
	return &Google{
		httpClient: &http.Client{Timeout: streamTimeout},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
	}
}

// Generate implements Streamer. System turns become the systemInstruction;
// assistant turns map onto the "model" role.
func (g *Google) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	body, err := json.Marshal(g.encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse",
		g.endpoint, resolveModel(req.Model, g.model), g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("google API returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	chunks := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			text, ok := decodeGoogleChunk(payload)
			if !ok || text == "" {
				continue
			}
			select {
			case chunks <- &TextChunk{Content: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- &ErrorChunk{Message: err.Error()}
		}
	}()
	return chunks, nil
}

func (g *Google) encodeRequest(req *Request) map[string]any {
	var systemParts []map[string]any
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, map[string]any{"text": m.Content})
		case RoleAssistant:
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": m.Content}},
			})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": googleMaxOutputTokens,
		},
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{"parts": systemParts}
	}
	return body
}

func decodeGoogleChunk(payload string) (string, bool) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, c := range parsed.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String(), true
}
