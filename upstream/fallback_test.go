package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

// stubCompleter records every prompt it receives and returns canned replies.
type stubCompleter struct {
	mu      sync.Mutex
	prompts []Prompt
	reply   Reply
	err     error
}

func (s *stubCompleter) Complete(ctx context.Context, p Prompt) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	return s.reply, s.err
}

func (s *stubCompleter) StreamComplete(ctx context.Context, p Prompt, onText func(string), onCall func(*genai.FunctionCall)) error {
	return errors.New("not used in fallback")
}

func (s *stubCompleter) lastPrompt(t *testing.T) Prompt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		t.Fatal("completer was never called")
	}
	return s.prompts[len(s.prompts)-1]
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn to complete")
	}
}

func TestFallbackGreetsOnStart(t *testing.T) {
	completer := &stubCompleter{reply: Reply{Text: "Hi! Type away."}}
	fb := NewFallbackBinding(completer, "system prompt")

	done := make(chan struct{}, 1)
	var gotText string
	fb.SetHandlers(Handlers{
		OnResponseText: func(text string) { gotText = text },
		OnTurnComplete: func() { done <- struct{}{} },
	})

	fb.Start(context.Background())
	waitSignal(t, done)

	if gotText != "Hi! Type away." {
		t.Errorf("OnResponseText got %q, want the greeting reply", gotText)
	}
	if p := completer.lastPrompt(t); p.System != "system prompt" {
		t.Errorf("System = %q, want %q", p.System, "system prompt")
	}
}

func TestFallbackEndTurnAcknowledgesDiscardedAudio(t *testing.T) {
	completer := &stubCompleter{reply: Reply{Text: "Sorry, please type."}}
	fb := NewFallbackBinding(completer, "sys")

	done := make(chan struct{}, 2)
	fb.SetHandlers(Handlers{
		OnTurnComplete: func() { done <- struct{}{} },
	})

	fb.Start(context.Background())
	waitSignal(t, done)

	if err := fb.EndTurn(2048); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}
	waitSignal(t, done)

	completer.mu.Lock()
	calls := len(completer.prompts)
	completer.mu.Unlock()
	if calls != 2 {
		t.Errorf("completer called %d times, want 2 (greeting + ack)", calls)
	}
}

func TestFallbackHistoryWindowSlides(t *testing.T) {
	completer := &stubCompleter{reply: Reply{Text: "ok"}}
	fb := NewFallbackBinding(completer, "sys")

	done := make(chan struct{}, 1)
	fb.SetHandlers(Handlers{OnTurnComplete: func() { done <- struct{}{} }})

	// Seed well past the window before triggering a completion
	for i := 0; i < 25; i++ {
		if err := fb.SendContext(fmt.Sprintf("context %d", i)); err != nil {
			t.Fatalf("SendContext() error = %v", err)
		}
	}

	fb.Start(context.Background())
	waitSignal(t, done)

	p := completer.lastPrompt(t)
	if len(p.History) != maxHistoryTurns {
		t.Fatalf("window length = %d, want %d", len(p.History), maxHistoryTurns)
	}
	// Oldest first: entries 16..24 then the greeting prompt
	if p.History[0].Content != "context 16" {
		t.Errorf("window[0] = %q, want %q", p.History[0].Content, "context 16")
	}
	if p.History[len(p.History)-1].Content != greetingPrompt {
		t.Errorf("window tail = %q, want the triggering prompt last", p.History[len(p.History)-1].Content)
	}
	for _, turn := range p.History {
		if turn.Role != messages.RoleUser {
			t.Errorf("turn role = %q, want %q", turn.Role, messages.RoleUser)
		}
	}
}

func TestFallbackRecipeContextForwarded(t *testing.T) {
	completer := &stubCompleter{reply: Reply{Text: "ok"}}
	fb := NewFallbackBinding(completer, "sys")

	done := make(chan struct{}, 1)
	fb.SetHandlers(Handlers{OnTurnComplete: func() { done <- struct{}{} }})

	snap := &recipe.Snapshot{ID: "r1", Title: "Stew", LastUpdated: 7}
	fb.SetRecipeContext(snap)

	fb.Start(context.Background())
	waitSignal(t, done)

	p := completer.lastPrompt(t)
	if p.RecipeContext == nil || p.RecipeContext.Title != "Stew" {
		t.Errorf("RecipeContext = %+v, want the stored snapshot", p.RecipeContext)
	}
}

func TestFallbackRelaysToolCalls(t *testing.T) {
	completer := &stubCompleter{reply: Reply{
		Text:  "Recipe saved.",
		Calls: []*genai.FunctionCall{{Name: "set_recipe"}},
	}}
	fb := NewFallbackBinding(completer, "sys")

	done := make(chan struct{}, 1)
	var gotCalls []*genai.FunctionCall
	fb.SetHandlers(Handlers{
		OnToolCall:     func(calls []*genai.FunctionCall) { gotCalls = calls },
		OnTurnComplete: func() { done <- struct{}{} },
	})

	fb.Start(context.Background())
	waitSignal(t, done)

	if len(gotCalls) != 1 || gotCalls[0].Name != "set_recipe" {
		t.Errorf("OnToolCall got %v, want the set_recipe call", gotCalls)
	}
}

func TestFallbackErrorReachesHandler(t *testing.T) {
	completer := &stubCompleter{err: errors.New("quota exhausted")}
	fb := NewFallbackBinding(completer, "sys")

	errCh := make(chan error, 1)
	fb.SetHandlers(Handlers{
		OnError:        func(err error) { errCh <- err },
		OnTurnComplete: func() { t.Error("OnTurnComplete fired after a failed completion") },
	})

	fb.Start(context.Background())

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("OnError got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestFallbackClosedBindingStaysQuiet(t *testing.T) {
	completer := &stubCompleter{reply: Reply{Text: "ok"}}
	fb := NewFallbackBinding(completer, "sys")

	done := make(chan struct{}, 1)
	fb.SetHandlers(Handlers{OnTurnComplete: func() { done <- struct{}{} }})

	fb.Start(context.Background())
	waitSignal(t, done)

	if err := fb.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := fb.EndTurn(100); err != nil {
		t.Fatalf("EndTurn() after close error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	completer.mu.Lock()
	calls := len(completer.prompts)
	completer.mu.Unlock()
	if calls != 1 {
		t.Errorf("completer called %d times after close, want the single greeting", calls)
	}
}

func TestFallbackIsDegraded(t *testing.T) {
	fb := NewFallbackBinding(&stubCompleter{}, "sys")
	if !fb.Degraded() {
		t.Fatal("Degraded() = false for the fallback binding")
	}
}
