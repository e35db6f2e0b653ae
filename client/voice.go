package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

// VoiceHandlers are the callbacks for inbound voice-channel frames.
// Nil handlers are skipped.
type VoiceHandlers struct {
	OnConnected          func(message string)
	OnTranscript         func(text string)
	OnResponseTranscript func(text string)
	OnRecipeUpdate       func(snap recipe.Snapshot)
	OnAudio              func(data []byte)
	OnTurnComplete       func()
	OnError              func(code, message string)
}

// VoiceClient is the client side of the audio WebSocket: control JSON out
// and in as text frames, PCM16 audio as binary frames.
type VoiceClient struct {
	conn     *websocket.Conn
	store    *recipe.Store
	handlers VoiceHandlers

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// DialVoice connects to the voice endpoint.
func DialVoice(ctx context.Context, url string, store *recipe.Store, handlers VoiceHandlers) (*VoiceClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return &VoiceClient{
		conn:     conn,
		store:    store,
		handlers: handlers,
		done:     make(chan struct{}),
	}, nil
}

// SendSetup sends the one-time session_setup frame. Call it immediately
// after dialing, before any audio.
func (vc *VoiceClient) SendSetup(current *recipe.Snapshot, instructions string) error {
	return vc.writeControl(messages.NewSessionSetup(current, instructions))
}

// SendAudioFrame sends one encoded PCM block as a binary frame.
func (vc *VoiceClient) SendAudioFrame(frame []byte) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.closed {
		return fmt.Errorf("voice client is closed")
	}
	return vc.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// EndTurn marks the end of the current utterance.
func (vc *VoiceClient) EndTurn() error {
	return vc.writeControl(&messages.Control{Type: messages.TypeEndTurn})
}

func (vc *VoiceClient) writeControl(ctrl *messages.Control) error {
	data, err := sonic.Marshal(ctrl)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.closed {
		return fmt.Errorf("voice client is closed")
	}
	return vc.conn.WriteMessage(websocket.TextMessage, data)
}

// Listen reads inbound frames until the connection closes, dispatching them
// to the handlers. Run it in its own goroutine.
func (vc *VoiceClient) Listen() {
	defer close(vc.done)

	for {
		messageType, message, err := vc.conn.ReadMessage()
		if err != nil {
			if !vc.isClosed() {
				log.Printf("voice: read error: %v", err)
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			if vc.handlers.OnAudio != nil {
				vc.handlers.OnAudio(message)
			}
			continue
		}

		var ctrl messages.Control
		if err := sonic.Unmarshal(message, &ctrl); err != nil {
			log.Printf("voice: skipping malformed control frame: %v", err)
			continue
		}
		vc.dispatch(&ctrl)
	}
}

func (vc *VoiceClient) dispatch(ctrl *messages.Control) {
	switch ctrl.Type {
	case messages.TypeConnected:
		if vc.handlers.OnConnected != nil {
			vc.handlers.OnConnected(ctrl.Message)
		}
	case messages.TypeTranscript:
		if vc.handlers.OnTranscript != nil {
			vc.handlers.OnTranscript(ctrl.Text)
		}
	case messages.TypeResponseTranscript:
		if vc.handlers.OnResponseTranscript != nil {
			vc.handlers.OnResponseTranscript(ctrl.Text)
		}
	case messages.TypeRecipeUpdate:
		if ctrl.Recipe == nil {
			log.Printf("voice: recipe_update without recipe, skipping")
			return
		}
		if vc.store != nil {
			vc.store.ApplyIfNewer(*ctrl.Recipe)
		}
		if vc.handlers.OnRecipeUpdate != nil {
			vc.handlers.OnRecipeUpdate(*ctrl.Recipe)
		}
	case messages.TypeTurnComplete:
		if vc.handlers.OnTurnComplete != nil {
			vc.handlers.OnTurnComplete()
		}
	case messages.TypeError:
		if vc.handlers.OnError != nil {
			vc.handlers.OnError(ctrl.Code, ctrl.Message)
		}
	case messages.TypePong:
		// keepalive, nothing to do
	default:
		log.Printf("voice: unknown control type %q", ctrl.Type)
	}
}

// Done is closed when the read loop exits.
func (vc *VoiceClient) Done() <-chan struct{} {
	return vc.done
}

func (vc *VoiceClient) isClosed() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.closed
}

// Close sends a close frame and tears down the connection. Any audio still
// buffered client-side is the caller's to discard.
func (vc *VoiceClient) Close() error {
	vc.mu.Lock()
	if vc.closed {
		vc.mu.Unlock()
		return nil
	}
	vc.closed = true
	vc.mu.Unlock()

	vc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return vc.conn.Close()
}
