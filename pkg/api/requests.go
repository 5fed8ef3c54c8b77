package api

import (
	"github.com/prismsec/prism/pkg/reason/providers"
)

// maxInputLength caps chat input so a rogue client cannot push megabytes
// into the prompt.
const maxInputLength = 100_000

// ChatRequest is the HTTP request body for POST /api/chat.
type ChatRequest struct {
	Input    string        `json:"input"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	History  []ChatMessage `json:"history,omitempty"`
}

// ChatMessage is one prior dialogue turn replayed with a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// history converts the replayed turns into provider messages.
func (r *ChatRequest) history() []providers.Message {
	if len(r.History) == 0 {
		return nil
	}
	messages := make([]providers.Message, len(r.History))
	for i, m := range r.History {
		messages[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return messages
}

// SetEnabledRequest is the HTTP request body for PATCH /api/tasks/:id/enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
