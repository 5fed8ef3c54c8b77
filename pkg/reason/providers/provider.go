// Package providers implements the streaming adapters for the LLM backends
// the reasoning loop can drive: OpenAI, Anthropic, Google, and Ollama.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names accepted by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Default models per provider, overridable from settings.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultGoogleModel    = "gemini-2.0-flash"
	DefaultOllamaModel    = "llama3.1"
)

const (
	// chunkBuffer decouples provider reads from consumer writes.
	chunkBuffer = 32

	// streamTimeout caps one full streamed generation, connect included.
	streamTimeout = 5 * time.Minute
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-independent generation request. Model overrides the
// adapter's configured model when set.
type Request struct {
	Model    string
	Messages []Message
}

// Chunk is the interface for streaming chunk values.
type Chunk interface {
	chunkType() chunkType
}

type chunkType string

const (
	chunkTypeText  chunkType = "text"
	chunkTypeError chunkType = "error"
)

// TextChunk is a piece of the model's text response.
type TextChunk struct{ Content string }

// ErrorChunk signals a provider failure mid-stream.
type ErrorChunk struct{ Message string }

func (c *TextChunk) chunkType() chunkType  { return chunkTypeText }
func (c *ErrorChunk) chunkType() chunkType { return chunkTypeError }

// Streamer generates a streaming completion. The returned channel is closed
// when the stream completes; provider failures are delivered as ErrorChunk
// values in the channel.
type Streamer interface {
	Generate(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Config carries the per-provider credentials and overrides resolved from
// settings.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
}

// RequiresAPIKey reports whether a provider cannot run without a key.
// Ollama talks to a local daemon and needs none.
func RequiresAPIKey(provider string) bool {
	return Canonical(provider) != ProviderOllama
}

// Canonical maps provider name aliases onto the factory names.
func Canonical(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gemini", ProviderGoogle:
		return ProviderGoogle
	case "claude", ProviderAnthropic:
		return ProviderAnthropic
	case ProviderOllama:
		return ProviderOllama
	default:
		return strings.ToLower(strings.TrimSpace(provider))
	}
}

// New builds the streaming adapter for a provider name.
func New(provider string, cfg Config) (Streamer, error) {
	switch Canonical(provider) {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderGoogle:
		return NewGoogle(cfg), nil
	case ProviderOllama:
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

func resolveModel(requested, configured string) string {
	if requested != "" {
		return requested
	}
	return configured
}
