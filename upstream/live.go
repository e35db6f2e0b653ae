package upstream

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"
)

// LiveBinding drives a bidirectional Live API session: client audio in,
// assistant audio, transcripts and tool calls out.
type LiveBinding struct {
	session  *genai.Session
	handlers Handlers

	mu     sync.RWMutex
	closed bool
}

// NewLiveBinding connects a Live session. Any error here is the signal for
// the caller to construct a FallbackBinding instead.
func NewLiveBinding(ctx context.Context, client *genai.Client, model, systemPrompt string, tools []*genai.Tool) (*LiveBinding, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt},
			},
		},
		Tools: tools,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: "Aoede",
				},
			},
		},
		// Transcripts of both sides feed the client's chat view.
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	session, err := client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	log.Printf("✅ Connected to Live API (%s)", model)
	return &LiveBinding{session: session}, nil
}

// SetHandlers installs the event callbacks. Must be called before Start.
func (lb *LiveBinding) SetHandlers(h Handlers) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.handlers = h
}

// Degraded reports false: this is the live path.
func (lb *LiveBinding) Degraded() bool { return false }

// Start begins listening for upstream messages. Transport errors terminate
// the receive loop and reach the session via OnError; there is no mid-session
// reconnect.
func (lb *LiveBinding) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			lb.mu.RLock()
			closed := lb.closed
			session := lb.session
			h := lb.handlers
			lb.mu.RUnlock()

			if closed || session == nil {
				return
			}

			// Receive blocks until a message arrives or the stream fails
			resp, err := session.Receive()
			if err != nil {
				lb.mu.RLock()
				closed := lb.closed
				lb.mu.RUnlock()

				if !closed {
					log.Printf("❌ Live receive error: %v", err)
					if h.OnError != nil {
						h.OnError(err)
					}
				}
				return
			}

			lb.handleMessage(resp, h)
		}
	}()
}

func (lb *LiveBinding) handleMessage(resp *genai.LiveServerMessage, h Handlers) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		log.Printf("📥 Live: %d function call(s)", len(resp.ToolCall.FunctionCalls))
		if h.OnToolCall != nil {
			h.OnToolCall(resp.ToolCall.FunctionCalls)
		}
	}

	if resp.ServerContent == nil {
		return
	}

	if t := resp.ServerContent.InputTranscription; t != nil && t.Text != "" && h.OnTranscript != nil {
		h.OnTranscript(t.Text)
	}
	if t := resp.ServerContent.OutputTranscription; t != nil && t.Text != "" && h.OnResponseText != nil {
		h.OnResponseText(t.Text)
	}

	if resp.ServerContent.ModelTurn != nil {
		for _, part := range resp.ServerContent.ModelTurn.Parts {
			if part.Text != "" && h.OnResponseText != nil {
				h.OnResponseText(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && h.OnAudio != nil {
				h.OnAudio(part.InlineData.Data)
			}
		}
	}

	if resp.ServerContent.TurnComplete && h.OnTurnComplete != nil {
		h.OnTurnComplete()
	}
}

// SendAudio forwards one client audio frame verbatim.
func (lb *LiveBinding) SendAudio(data []byte) error {
	lb.mu.RLock()
	session := lb.session
	closed := lb.closed
	lb.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("live binding is closed")
	}

	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: "audio/pcm;rate=24000",
			Data:     data,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// EndTurn signals that the client's audio stream has paused, prompting the
// model to respond to the accumulated input.
func (lb *LiveBinding) EndTurn(byteCount int) error {
	lb.mu.RLock()
	session := lb.session
	closed := lb.closed
	lb.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("live binding is closed")
	}

	log.Printf("📤 Live: audio stream end after %d bytes", byteCount)
	err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		AudioStreamEnd: true,
	})
	if err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	return nil
}

// SendContext adds grounding without completing the user's turn, so the model
// does not respond to it directly.
func (lb *LiveBinding) SendContext(text string) error {
	lb.mu.RLock()
	session := lb.session
	closed := lb.closed
	lb.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("live binding is closed")
	}

	turnComplete := false
	err := session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send context: %w", err)
	}
	return nil
}

// SendToolResponse returns function call results to the model.
func (lb *LiveBinding) SendToolResponse(responses []*genai.FunctionResponse) error {
	lb.mu.RLock()
	session := lb.session
	closed := lb.closed
	lb.mu.RUnlock()

	if closed || session == nil {
		return fmt.Errorf("live binding is closed")
	}

	err := session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}
	return nil
}

// Close terminates the Live session.
func (lb *LiveBinding) Close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.closed {
		return nil
	}
	lb.closed = true

	if lb.session != nil {
		return lb.session.Close()
	}
	return nil
}
