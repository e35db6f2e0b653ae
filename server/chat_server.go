package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/config"
	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
	"github.com/sunfac/flavr-sub007/session"
	"github.com/sunfac/flavr-sub007/upstream"
)

const maxChatBodyBytes = 1 << 20 // 1MB request body cap

// Chat serves the typed chat channel as a chunked event stream.
type Chat struct {
	httpServer *http.Server
	completer  upstream.Completer
	store      *recipe.Store
	config     *config.Config
}

// NewChatServer creates the chat stream server. It shares the Completion
// Service client and recipe store with the voice sessions.
func NewChatServer(cfg *config.Config, completer upstream.Completer, store *recipe.Store) *Chat {
	s := &Chat{
		completer: completer,
		store:     store,
		config:    cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/stream", s.handleChatStream)
	mux.HandleFunc("/health", s.handleHealth)

	// Determine which port to use
	port := cfg.ChatPort
	if cfg.ServerType == "chat" {
		// When running as standalone chat server, use the main port
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		// No WriteTimeout: responses stream for as long as the model talks.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start begins listening for connections
func (s *Chat) Start() error {
	log.Printf("🚀 Chat stream server starting on %s", s.httpServer.Addr)
	log.Printf("📡 Chat endpoint: http://localhost%s/chat/stream", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Chat) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down chat server...")
	return s.httpServer.Shutdown(ctx)
}

// handleChatStream relays one chat message as a stream of events: content
// fragments, at most one recipeUpdate, then exactly one terminal done or
// error frame. If the client aborts, consumption of the Completion Service
// stops and no terminal frame is written.
func (s *Chat) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req messages.ChatRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	prompt := upstream.Prompt{
		System:        session.DefaultSystemPrompt,
		History:       chatTurns(&req),
		RecipeContext: req.CurrentRecipe,
	}

	updateSent := false
	streamErr := s.completer.StreamComplete(ctx, prompt,
		func(text string) {
			if text == "" {
				return
			}
			s.writeEvent(w, flusher, messages.StreamEvent{
				Type:    messages.StreamContent,
				Content: text,
			})
		},
		func(fc *genai.FunctionCall) {
			if fc.Name != recipe.SetRecipeFunctionName {
				log.Printf("⚠️ chat: unknown function called: %s", fc.Name)
				return
			}
			if updateSent {
				log.Printf("⚠️ chat: duplicate set_recipe call ignored")
				return
			}
			snap, err := s.applySetRecipe(&req, fc)
			if err != nil {
				log.Printf("⚠️ chat: rejected tool call: %v", err)
				return
			}
			updateSent = true
			s.writeEvent(w, flusher, messages.StreamEvent{
				Type:   messages.StreamRecipeUpdate,
				Recipe: &snap,
			})
		},
	)

	// Client gone: the transport already closed, no terminal frame.
	if ctx.Err() != nil {
		log.Printf("🔌 chat: client aborted stream")
		return
	}

	if streamErr != nil {
		log.Printf("❌ chat: stream failed: %v", streamErr)
		s.writeEvent(w, flusher, messages.StreamEvent{
			Type:    messages.StreamError,
			Message: "The assistant is unavailable right now. Please try again.",
		})
		return
	}

	s.writeEvent(w, flusher, messages.StreamEvent{Type: messages.StreamDone})
}

// chatTurns normalises the request history. The client appends the submitted
// message before sending, but an empty history still works: the message
// itself becomes the only turn.
func chatTurns(req *messages.ChatRequest) []messages.Turn {
	turns := req.ConversationHistory
	if n := len(turns); n == 0 || turns[n-1].Role != messages.RoleUser || turns[n-1].Content != req.Message {
		turns = append(turns, messages.Turn{Role: messages.RoleUser, Content: req.Message})
	}
	return turns
}

// applySetRecipe parses the mutation, stamps it newer than the held
// snapshot, and applies it to the shared store.
func (s *Chat) applySetRecipe(req *messages.ChatRequest, fc *genai.FunctionCall) (recipe.Snapshot, error) {
	id := ""
	if req.CurrentRecipe != nil {
		id = req.CurrentRecipe.ID
	}
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UnixMilli()
	if held, ok := s.store.Get(id); ok && now <= held.LastUpdated {
		now = held.LastUpdated + 1
	}

	snap, err := recipe.FromSetRecipeCall(fc, id, now)
	if err != nil {
		return recipe.Snapshot{}, err
	}

	s.store.ApplyIfNewer(snap)
	return snap, nil
}

func (s *Chat) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev messages.StreamEvent) {
	frame, err := messages.EncodeStreamFrame(ev)
	if err != nil {
		log.Printf("⚠️ chat: failed to encode stream event: %v", err)
		return
	}
	if _, err := w.Write(frame); err != nil {
		return
	}
	flusher.Flush()
}

func (s *Chat) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","server":"chat"}`)
}
