// Package upstream binds a conversation session to the hosted model. A
// session first attempts a LiveBinding (bidirectional audio over the Live
// API); when that fails for any reason it falls back to a FallbackBinding
// driven by single-shot completions. Both implement Binding so the session
// bridge never cares which one it got.
package upstream

import (
	"context"

	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

// Handlers are the callbacks a binding invokes as upstream events arrive.
// Nil handlers are skipped.
type Handlers struct {
	OnTranscript   func(text string) // user speech transcript
	OnResponseText func(text string) // assistant text
	OnAudio        func(data []byte) // assistant audio, PCM16 LE 24kHz
	OnToolCall     func(calls []*genai.FunctionCall)
	OnTurnComplete func()
	OnError        func(err error)
}

// Binding is the session's view of the upstream model, live or degraded.
type Binding interface {
	// Start begins delivering upstream events to the handlers.
	Start(ctx context.Context)

	// SetHandlers must be called before Start.
	SetHandlers(h Handlers)

	// SendAudio forwards one binary audio frame. Only meaningful on a live
	// binding; the session buffers audio itself when degraded.
	SendAudio(data []byte) error

	// EndTurn marks the end of the user's utterance. On the degraded path the
	// buffered audio cannot be transcribed and triggers a fixed
	// acknowledgement utterance instead; byteCount is logged only.
	EndTurn(byteCount int) error

	// SendContext grounds the conversation without triggering a response.
	SendContext(text string) error

	// SendToolResponse acknowledges handled tool calls.
	SendToolResponse(responses []*genai.FunctionResponse) error

	// Degraded reports whether this is the fallback path.
	Degraded() bool

	Close() error
}

// Prompt is one completion request against the model.
type Prompt struct {
	System        string
	History       []messages.Turn // oldest -> newest, includes the user message
	RecipeContext *recipe.Snapshot
}

// Reply is the model's full answer to a Prompt.
type Reply struct {
	Text  string
	Calls []*genai.FunctionCall
}

// Completer is the single-shot prompt-to-text capability. The chat stream
// responder and the degraded voice path both run on it.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Reply, error)

	// StreamComplete relays text fragments and tool calls as the model
	// produces them. It returns once the model turn is complete or ctx is
	// cancelled.
	StreamComplete(ctx context.Context, p Prompt, onText func(string), onCall func(*genai.FunctionCall)) error
}
