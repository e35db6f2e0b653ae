package upstream

import (
	"context"
	"log"
	"sync"

	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

// maxHistoryTurns bounds the sliding window of turns handed to the
// Completion Service on the degraded path.
const maxHistoryTurns = 10

const (
	greetingPrompt = "Greet the user warmly in one or two sentences and let them " +
		"know you are ready to help with their recipe. Mention that voice " +
		"recognition is unavailable right now, so they should type instead."

	audioAckPrompt = "The user just spoke, but you cannot hear audio in this " +
		"session. In one short sentence, apologise and ask them to type their " +
		"request instead."
)

// FallbackBinding is the degraded path taken when the Live session cannot be
// established. It keeps the wire protocol identical for the client: the
// session still gets its connected frame, a greeting, and acknowledgements
// for audio it sends, all synthesised through the Completion Service.
type FallbackBinding struct {
	completer Completer
	system    string
	handlers  Handlers

	mu       sync.Mutex
	history  []messages.Turn
	recipe   *recipe.Snapshot
	closed   bool
	runCtx   context.Context
	cancelFn context.CancelFunc
}

// NewFallbackBinding creates the degraded binding. Construction never fails:
// the fallback is the path of last resort.
func NewFallbackBinding(completer Completer, systemPrompt string) *FallbackBinding {
	return &FallbackBinding{
		completer: completer,
		system:    systemPrompt,
	}
}

// SetHandlers installs the event callbacks. Must be called before Start.
func (fb *FallbackBinding) SetHandlers(h Handlers) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers = h
}

// Degraded reports true: this is the fallback path.
func (fb *FallbackBinding) Degraded() bool { return true }

// Start synthesises the initial greeting utterance.
func (fb *FallbackBinding) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	fb.mu.Lock()
	fb.runCtx = runCtx
	fb.cancelFn = cancel
	fb.mu.Unlock()

	go fb.respond(runCtx, greetingPrompt)
}

// EndTurn handles the end of a (non-transcribable) audio utterance with a
// fixed acknowledgement through the Completion Service.
func (fb *FallbackBinding) EndTurn(byteCount int) error {
	fb.mu.Lock()
	closed := fb.closed
	runCtx := fb.runCtx
	fb.mu.Unlock()

	if closed || runCtx == nil {
		return nil
	}

	log.Printf("🔇 Fallback: discarding %d bytes of audio, acknowledging", byteCount)
	go fb.respond(runCtx, audioAckPrompt)
	return nil
}

// SendAudio is a no-op on the degraded path; the session buffers audio and
// calls EndTurn.
func (fb *FallbackBinding) SendAudio(data []byte) error { return nil }

// SendContext stores recipe grounding for subsequent completions.
func (fb *FallbackBinding) SendContext(text string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.appendTurnLocked(messages.Turn{Role: messages.RoleUser, Content: text})
	return nil
}

// SetRecipeContext replaces the recipe grounding used on every completion.
func (fb *FallbackBinding) SetRecipeContext(snap *recipe.Snapshot) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.recipe = snap
}

// SendToolResponse is a no-op: fallback completions are single-shot, the
// model never waits on a tool result.
func (fb *FallbackBinding) SendToolResponse(responses []*genai.FunctionResponse) error {
	return nil
}

// respond runs one completion against the bounded history window and relays
// the reply through the handlers.
func (fb *FallbackBinding) respond(ctx context.Context, prompt string) {
	fb.mu.Lock()
	if fb.closed {
		fb.mu.Unlock()
		return
	}
	fb.appendTurnLocked(messages.Turn{Role: messages.RoleUser, Content: prompt})
	window := make([]messages.Turn, len(fb.history))
	copy(window, fb.history)
	recipeCtx := fb.recipe
	h := fb.handlers
	fb.mu.Unlock()

	reply, err := fb.completer.Complete(ctx, Prompt{
		System:        fb.system,
		History:       window,
		RecipeContext: recipeCtx,
	})
	if err != nil {
		log.Printf("❌ Fallback completion error: %v", err)
		if h.OnError != nil {
			h.OnError(err)
		}
		return
	}

	fb.mu.Lock()
	fb.appendTurnLocked(messages.Turn{Role: messages.RoleAssistant, Content: reply.Text})
	fb.mu.Unlock()

	if reply.Text != "" && h.OnResponseText != nil {
		h.OnResponseText(reply.Text)
	}
	if len(reply.Calls) > 0 && h.OnToolCall != nil {
		h.OnToolCall(reply.Calls)
	}
	if h.OnTurnComplete != nil {
		h.OnTurnComplete()
	}
}

// appendTurnLocked appends to the sliding window, dropping the oldest turn
// once the window exceeds maxHistoryTurns. Caller holds fb.mu.
func (fb *FallbackBinding) appendTurnLocked(turn messages.Turn) {
	fb.history = append(fb.history, turn)
	if len(fb.history) > maxHistoryTurns {
		fb.history = fb.history[len(fb.history)-maxHistoryTurns:]
	}
}

// Close stops any in-flight completion.
func (fb *FallbackBinding) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return nil
	}
	fb.closed = true
	if fb.cancelFn != nil {
		fb.cancelFn()
	}
	return nil
}
