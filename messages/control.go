package messages

import (
	"github.com/sunfac/flavr-sub007/recipe"
)

// Control message types exchanged as JSON text frames on the voice WebSocket.
// Audio travels as raw binary frames, never inside JSON.
const (
	TypeSessionSetup       = "session_setup"
	TypeEndTurn            = "end_turn"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeConnected          = "connected"
	TypeTranscript         = "transcript"
	TypeResponseTranscript = "response_transcript"
	TypeRecipeUpdate       = "recipe_update"
	TypeTurnComplete       = "turn_complete"
	TypeError              = "error"
)

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUpstreamError  = "UPSTREAM_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeBufferFull     = "BUFFER_FULL"
)

// Control is the tagged union for both directions of the voice channel.
// Unknown types are ignored by receivers, never a hard failure.
type Control struct {
	Type string `json:"type"`

	// session_setup (client -> server)
	CurrentRecipe *recipe.Snapshot `json:"currentRecipe,omitempty"`
	Instructions  string           `json:"instructions,omitempty"`

	// transcript / response_transcript
	Text string `json:"text,omitempty"`

	// recipe_update
	Recipe *recipe.Snapshot `json:"recipe,omitempty"`

	// connected / error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NewSessionSetup creates the one-time setup frame sent right after connect.
func NewSessionSetup(current *recipe.Snapshot, instructions string) *Control {
	return &Control{
		Type:          TypeSessionSetup,
		CurrentRecipe: current,
		Instructions:  instructions,
	}
}

// NewConnected creates the single connected frame sent per session.
func NewConnected(message string) *Control {
	return &Control{Type: TypeConnected, Message: message}
}

// NewTranscript creates a user-speech transcript frame.
func NewTranscript(text string) *Control {
	return &Control{Type: TypeTranscript, Text: text}
}

// NewResponseTranscript creates an assistant-speech transcript frame.
func NewResponseTranscript(text string) *Control {
	return &Control{Type: TypeResponseTranscript, Text: text}
}

// NewRecipeUpdate creates a recipe mutation frame.
func NewRecipeUpdate(snap recipe.Snapshot) *Control {
	return &Control{Type: TypeRecipeUpdate, Recipe: &snap}
}

// NewTurnComplete signals the end of an assistant turn.
func NewTurnComplete() *Control {
	return &Control{Type: TypeTurnComplete}
}

// NewError creates an error frame.
func NewError(code, message string) *Control {
	return &Control{Type: TypeError, Code: code, Message: message}
}
