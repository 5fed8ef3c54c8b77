package providers

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens bounds one streamed response; the Messages API requires
// an explicit budget.
const anthropicMaxTokens = 8192

// Anthropic streams messages from the Anthropic API.
type Anthropic struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates the adapter.
func NewAnthropic(cfg Config) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{client: sdk.NewClient(opts...), model: model}
}

// Generate implements Streamer. System turns become the system prompt;
// everything else maps onto user/assistant messages.
func (a *Anthropic) Generate(ctx context.Context, req *Request) (<-chan Chunk, error) {
	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(resolveModel(req.Model, a.model)),
		MaxTokens: anthropicMaxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(chunks)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case chunks <- &TextChunk{Content: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- &ErrorChunk{Message: err.Error()}
		}
	}()
	return chunks, nil
}
