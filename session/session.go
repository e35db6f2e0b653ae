package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
	"github.com/sunfac/flavr-sub007/upstream"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// State is the lifecycle state of a conversation session.
type State string

const (
	StateInit           State = "INIT"
	StateConnecting     State = "CONNECTING"
	StateLiveActive     State = "LIVE_ACTIVE"
	StateDegradedActive State = "DEGRADED_ACTIVE"
	StateClosing        State = "CLOSING"
	StateClosed         State = "CLOSED"
)

// ClientSession bridges one voice WebSocket connection to its upstream
// binding. All writes to the client go through a single writePump goroutine;
// inbound frames are processed in arrival order, never batched or reordered.
type ClientSession struct {
	ID           string
	Conn         *websocket.Conn
	Binding      upstream.Binding
	AudioBuffer  *AudioBuffer
	CreatedAt    time.Time
	LastActivity time.Time

	store          *recipe.Store
	currentRecipe  string // recipe id from session_setup, "" until set
	sentAudioBytes int    // since last end_turn, live path only

	writeChan chan any

	mu        sync.RWMutex
	state     State
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session in INIT. The binding is attached later
// by Bind, once upstream negotiation has finished.
func NewClientSession(id string, conn *websocket.Conn, store *recipe.Store, maxBufferSize int) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(512 * 1024)
	conn.EnableWriteCompression(true)
	conn.SetCompressionLevel(6)

	return &ClientSession{
		ID:           id,
		Conn:         conn,
		AudioBuffer:  NewAudioBuffer(maxBufferSize),
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		store:        store,
		writeChan:    make(chan any, writeBufferSize),
		state:        StateInit,
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// MarkConnecting records that upstream negotiation has begun.
func (cs *ClientSession) MarkConnecting() {
	cs.transition(StateConnecting)
}

// Bind attaches the negotiated upstream binding and moves the session to its
// active state.
func (cs *ClientSession) Bind(binding upstream.Binding) {
	cs.mu.Lock()
	cs.Binding = binding
	cs.mu.Unlock()

	if binding.Degraded() {
		cs.transition(StateDegradedActive)
	} else {
		cs.transition(StateLiveActive)
	}
}

// State returns the current lifecycle state.
func (cs *ClientSession) State() State {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state
}

// transition moves the session to a new state. Transitions out of CLOSED are
// refused.
func (cs *ClientSession) transition(to State) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state == StateClosed {
		return
	}
	log.Printf("🔁 [%s] %s → %s", cs.ID[:8], cs.state, to)
	cs.state = to
}

// Start begins the bidirectional message handling. The connected frame is
// queued exactly once per session, live or degraded.
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.setupBindingHandlers()
	cs.queueMessage(messages.NewConnected("Session established"))
	cs.Binding.Start(cs.ctx)
	go cs.handleClientMessages()
}

// setupBindingHandlers wires upstream events to client frames.
func (cs *ClientSession) setupBindingHandlers() {
	cs.Binding.SetHandlers(upstream.Handlers{
		OnTranscript: func(text string) {
			cs.queueMessage(messages.NewTranscript(text))
		},
		OnResponseText: func(text string) {
			cs.queueMessage(messages.NewResponseTranscript(text))
		},
		OnAudio: func(data []byte) {
			// response audio goes out as a raw binary frame
			cs.queueMessage(data)
		},
		OnToolCall: func(calls []*genai.FunctionCall) {
			cs.handleToolCalls(calls)
		},
		OnTurnComplete: func() {
			cs.queueMessage(messages.NewTurnComplete())
		},
		OnError: func(err error) {
			log.Printf("❌ [%s] upstream error: %v", cs.ID[:8], err)
			cs.queueMessage(messages.NewError(messages.ErrCodeUpstreamError, err.Error()))
			cs.Close()
		},
	})
}

// writePump handles all outgoing frames in a single goroutine. JSON control
// messages and binary audio share one ordered queue.
func (cs *ClientSession) writePump() {
	defer func() {
		cs.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.Conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg, ok := <-cs.writeChan:
			if !ok {
				return
			}
			if err := cs.writeFrame(msg); err != nil {
				return
			}

			// drain whatever else is already queued
			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg, ok := <-cs.writeChan:
					if !ok {
						return
					}
					if err := cs.writeFrame(msg); err != nil {
						return
					}
				default:
				}
			}
		}
	}
}

func (cs *ClientSession) writeFrame(msg any) error {
	cs.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if audio, ok := msg.([]byte); ok {
		return cs.Conn.WriteMessage(websocket.BinaryMessage, audio)
	}

	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ [%s] failed to marshal control frame: %v", cs.ID[:8], err)
		return nil
	}
	return cs.Conn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a frame to the write queue (non-blocking). Frames queued
// after shutdown began are dropped; the pump has already stopped draining.
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	shuttingDown := cs.state == StateClosing || cs.state == StateClosed
	cs.mu.RUnlock()
	if shuttingDown {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.mu.Lock()
		cs.LastActivity = time.Now()
		cs.mu.Unlock()
	default:
		// queue full, drop frame
	}
}

// handleClientMessages is the inbound read loop.
func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			messageType, message, err := cs.Conn.ReadMessage()
			if err != nil {
				return
			}

			cs.mu.Lock()
			cs.LastActivity = time.Now()
			cs.mu.Unlock()

			if messageType == websocket.BinaryMessage {
				cs.handleAudioFrame(message)
				continue
			}

			var ctrl messages.Control
			if err := sonic.Unmarshal(message, &ctrl); err != nil {
				cs.queueMessage(messages.NewError(messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}
			cs.processControl(&ctrl)
		}
	}
}

// handleAudioFrame routes one binary PCM frame. On the live path it is
// forwarded verbatim; degraded sessions have no ASR, so the frame is buffered
// and only its arrival is acknowledged at end_turn.
func (cs *ClientSession) handleAudioFrame(frame []byte) {
	switch cs.State() {
	case StateLiveActive:
		cs.sentAudioBytes += len(frame)
		if err := cs.Binding.SendAudio(frame); err != nil {
			log.Printf("❌ [%s] failed to forward audio: %v", cs.ID[:8], err)
			cs.queueMessage(messages.NewError(messages.ErrCodeUpstreamError, err.Error()))
		}
	case StateDegradedActive:
		if err := cs.AudioBuffer.Append(frame); err != nil {
			cs.queueMessage(messages.NewError(messages.ErrCodeBufferFull,
				fmt.Sprintf("Audio buffer full (max %d bytes)", cs.AudioBuffer.MaxSize())))
		}
	default:
		// not active, frame dropped
	}
}

func (cs *ClientSession) processControl(ctrl *messages.Control) {
	switch ctrl.Type {
	case messages.TypeSessionSetup:
		cs.handleSessionSetup(ctrl)
	case messages.TypeEndTurn:
		cs.handleEndTurn()
	case messages.TypePing:
		cs.queueMessage(&messages.Control{Type: messages.TypePong})
	default:
		// unknown control types are ignored, not fatal
		log.Printf("⚠️ [%s] unknown control type %q", cs.ID[:8], ctrl.Type)
	}
}

// handleSessionSetup stores the recipe grounding sent once after connect.
func (cs *ClientSession) handleSessionSetup(ctrl *messages.Control) {
	if ctrl.CurrentRecipe != nil {
		cs.mu.Lock()
		cs.currentRecipe = ctrl.CurrentRecipe.ID
		cs.mu.Unlock()
		cs.store.Replace(*ctrl.CurrentRecipe)

		if fb, ok := cs.Binding.(*upstream.FallbackBinding); ok {
			fb.SetRecipeContext(ctrl.CurrentRecipe)
		}
	}

	grounding, err := sonic.MarshalString(map[string]any{
		"instructions":  ctrl.Instructions,
		"currentRecipe": ctrl.CurrentRecipe,
	})
	if err != nil {
		log.Printf("⚠️ [%s] failed to marshal session setup: %v", cs.ID[:8], err)
		return
	}
	if err := cs.Binding.SendContext("Session context: " + grounding); err != nil {
		log.Printf("❌ [%s] failed to send session context: %v", cs.ID[:8], err)
	}
}

// handleEndTurn closes out the user's utterance on either path.
func (cs *ClientSession) handleEndTurn() {
	var byteCount int
	switch cs.State() {
	case StateLiveActive:
		byteCount = cs.sentAudioBytes
		cs.sentAudioBytes = 0
	case StateDegradedActive:
		byteCount = cs.AudioBuffer.Size()
		if byteCount == 0 {
			// nothing was spoken, nothing to acknowledge
			return
		}
		cs.AudioBuffer.Clear()
	default:
		return
	}

	if err := cs.Binding.EndTurn(byteCount); err != nil {
		log.Printf("❌ [%s] end turn failed: %v", cs.ID[:8], err)
		cs.queueMessage(messages.NewError(messages.ErrCodeUpstreamError, err.Error()))
	}
}

// handleToolCalls processes set_recipe calls from the model. A malformed
// call is logged and dropped; the conversation continues without a mutation.
func (cs *ClientSession) handleToolCalls(calls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse

	for _, fc := range calls {
		log.Printf("🔧 [%s] function call: %s (id: %s)", cs.ID[:8], fc.Name, fc.ID)

		var response map[string]any

		switch fc.Name {
		case recipe.SetRecipeFunctionName:
			snap, err := cs.applySetRecipe(fc)
			if err != nil {
				log.Printf("⚠️ [%s] rejected tool call: %v", cs.ID[:8], err)
				response = map[string]any{"error": err.Error()}
				break
			}
			cs.queueMessage(messages.NewRecipeUpdate(snap))
			response = map[string]any{"output": "recipe updated"}

		default:
			response = map[string]any{"error": fmt.Sprintf("unknown function: %s", fc.Name)}
			log.Printf("⚠️ [%s] unknown function called: %s", cs.ID[:8], fc.Name)
		}

		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: response,
		})
	}

	if err := cs.Binding.SendToolResponse(responses); err != nil {
		log.Printf("❌ [%s] failed to send tool response: %v", cs.ID[:8], err)
	}
}

// applySetRecipe parses the call, stamps it newer than whatever is held, and
// stores it under the apply-if-newer rule.
func (cs *ClientSession) applySetRecipe(fc *genai.FunctionCall) (recipe.Snapshot, error) {
	cs.mu.Lock()
	id := cs.currentRecipe
	if id == "" {
		id = uuid.New().String()
		cs.currentRecipe = id
	}
	cs.mu.Unlock()

	now := time.Now().UnixMilli()
	if held, ok := cs.store.Get(id); ok && now <= held.LastUpdated {
		now = held.LastUpdated + 1
	}

	snap, err := recipe.FromSetRecipeCall(fc, id, now)
	if err != nil {
		return recipe.Snapshot{}, err
	}

	cs.store.ApplyIfNewer(snap)
	return snap, nil
}

// IsClosed returns whether the session has fully shut down.
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state == StateClosed
}

// Close terminates the session and cleans up resources.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.state == StateClosing || cs.state == StateClosed {
		cs.mu.Unlock()
		return nil
	}
	log.Printf("🔁 [%s] %s → %s", cs.ID[:8], cs.state, StateClosing)
	cs.state = StateClosing
	cs.mu.Unlock()

	cs.cancel()

	// writeChan is never closed: a binding callback may still be racing a
	// queueMessage send. The pump exits via CloseChan and stragglers sit in
	// the buffer until the session is collected.
	close(cs.CloseChan)

	if cs.AudioBuffer != nil {
		cs.AudioBuffer.Clear()
	}
	if cs.Binding != nil {
		cs.Binding.Close()
	}
	if cs.Conn != nil {
		cs.Conn.Close()
	}

	cs.mu.Lock()
	log.Printf("🔁 [%s] %s → %s", cs.ID[:8], StateClosing, StateClosed)
	cs.state = StateClosed
	cs.mu.Unlock()

	return nil
}
