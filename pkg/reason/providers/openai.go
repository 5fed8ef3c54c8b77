package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI streams chat completions from the OpenAI API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the adapter. cfg.Endpoint overrides the API base URL for
// OpenAI-compatible gateways.
func NewOpenAI(cfg Config) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	var client *openai.Client
	if cfg.Endpoint != "" {
		c := openai.DefaultConfig(cfg.APIKey)
		c.BaseURL = cfg.Endpoint
		client = openai.NewClientWithConfig(c)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}
	return &OpenAI{client: client, model: model}
}

// Generate implements Streamer.
func (o *OpenAI) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    resolveModel(req.Model, o.model),
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				chunks <- &ErrorChunk{Message: err.Error()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case chunks <- &TextChunk{Content: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return chunks, nil
}
