package messages

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/sunfac/flavr-sub007/recipe"
)

// Stream event types for the chat text channel.
const (
	StreamContent      = "content"
	StreamRecipeUpdate = "recipeUpdate"
	StreamDone         = "done"
	StreamError        = "error"
)

// StreamEvent is one frame of the chunked chat response. Event order within a
// stream is significant: content fragments concatenate in emission order, and
// exactly one terminal event (done or error) ends the stream.
type StreamEvent struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Recipe  *recipe.Snapshot `json:"recipe,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior conversation entry, oldest first.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat/stream. ConversationHistory already
// includes the just-submitted user message as its final entry.
type ChatRequest struct {
	Message             string           `json:"message"`
	CurrentRecipe       *recipe.Snapshot `json:"currentRecipe,omitempty"`
	ConversationHistory []Turn           `json:"conversationHistory"`
}

// EncodeStreamFrame renders an event as a wire frame: "data: <json>\n\n".
func EncodeStreamFrame(ev StreamEvent) ([]byte, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal stream event: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
