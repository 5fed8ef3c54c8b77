package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prismsec/prism/pkg/settings"
)

const (
	defaultSearchEndpoint = "https://api.tavily.com/search"
	searchTimeout         = 20 * time.Second
	maxSearchResults      = 5
)

// WebSearch answers free-text queries through the Tavily search API.
type WebSearch struct {
	store      *settings.Store
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
}

// NewWebSearch creates a search tool. The API key is read from the
// TAVILY_API_KEY environment variable or from the stored settings.
func NewWebSearch(store *settings.Store, logger *slog.Logger) *WebSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearch{
		store:      store,
		httpClient: &http.Client{Timeout: searchTimeout},
		endpoint:   defaultSearchEndpoint,
		logger:     logger,
	}
}

// Search runs one query. A missing API key is reported as a disabled-tool
// error result rather than a transport failure.
func (w *WebSearch) Search(ctx context.Context, query string) map[string]any {
	if strings.TrimSpace(query) == "" {
		return errorResult("query is required")
	}
	key := w.apiKey(ctx)
	if key == "" {
		return errorResult("Web search is currently disabled. Set TAVILY_API_KEY or store a tavily API key in settings to enable it.")
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":        key,
		"query":          query,
		"max_results":    maxSearchResults,
		"include_answer": true,
	})
	if err != nil {
		return errorResult("failed to encode search request: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errorResult("failed to build search request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.httpClient.Do(req)
	if err != nil {
		return errorResult("web search failed: %s", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errorResult("web search returned HTTP %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return errorResult("failed to decode search response: %s", err)
	}

	var b strings.Builder
	if parsed.Answer != "" {
		b.WriteString(parsed.Answer)
		b.WriteString("\n\n")
	}
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		summary = "No results found."
	}

	w.logger.Info("Web search completed", "query", query, "results", len(parsed.Results))
	return map[string]any{
		"status": "success",
		"query":  query,
		"result": summary,
	}
}

// apiKey prefers the environment so operators can rotate the key without
// editing the settings document.
func (w *WebSearch) apiKey(ctx context.Context) string {
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		return key
	}
	if w.store == nil {
		return ""
	}
	snapshot, err := w.store.Get(ctx)
	if err != nil {
		return ""
	}
	if cfg, ok := snapshot.MCPProvider("tavily"); ok {
		return cfg.APIKey
	}
	return ""
}
