// Package client implements the consumer side of both transports: the
// chunked chat stream and the voice WebSocket.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

const (
	// recipeUpdatedSuffix is appended to the in-progress message when a
	// recipeUpdate event arrives.
	recipeUpdatedSuffix = "\n\n✅ Recipe updated."

	// failureMessage replaces the in-progress message on a terminal error.
	failureMessage = "Sorry, something went wrong. Please try again."
)

// FrameParser incrementally decodes "data: <json>\n\n" frames. A single
// network delivery may contain zero, one, or many complete frames, and a
// frame may be split anywhere. Undecoded bytes are held back until the
// frame terminator arrives, so splitting the byte stream at arbitrary
// offsets never changes the decoded event sequence.
type FrameParser struct {
	buf []byte
}

// Feed consumes one delivery and returns every event completed by it.
// Malformed frames are logged and skipped without aborting the stream.
func (p *FrameParser) Feed(chunk []byte) []messages.StreamEvent {
	p.buf = append(p.buf, chunk...)

	var events []messages.StreamEvent
	for {
		end := bytes.Index(p.buf, []byte("\n\n"))
		if end < 0 {
			return events
		}

		frame := p.buf[:end]
		p.buf = p.buf[end+2:]

		ev, ok := decodeFrame(frame)
		if ok {
			events = append(events, ev)
		}
	}
}

// decodeFrame parses one complete frame body.
func decodeFrame(frame []byte) (messages.StreamEvent, bool) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return messages.StreamEvent{}, false
	}

	payload, found := bytes.CutPrefix(frame, []byte("data: "))
	if !found {
		log.Printf("⚠️ stream: skipping frame without data prefix: %q", frame)
		return messages.StreamEvent{}, false
	}

	var ev messages.StreamEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		log.Printf("⚠️ stream: skipping malformed frame: %v", err)
		return messages.StreamEvent{}, false
	}
	return ev, true
}

// MessageView is the in-progress assistant message a stream builds up.
// After a terminal event all further events are discarded.
type MessageView struct {
	store    *recipe.Store
	text     strings.Builder
	complete bool
	failed   bool
}

// NewMessageView creates a view that applies recipe updates to store.
func NewMessageView(store *recipe.Store) *MessageView {
	return &MessageView{store: store}
}

// Apply folds one decoded event into the view.
func (mv *MessageView) Apply(ev messages.StreamEvent) {
	if mv.complete {
		// late events after done/error are discarded
		return
	}

	switch ev.Type {
	case messages.StreamContent:
		mv.text.WriteString(ev.Content)

	case messages.StreamRecipeUpdate:
		if ev.Recipe == nil {
			log.Printf("⚠️ stream: recipeUpdate without recipe, skipping")
			return
		}
		if mv.store != nil {
			mv.store.ApplyIfNewer(*ev.Recipe)
		}
		mv.text.WriteString(recipeUpdatedSuffix)

	case messages.StreamDone:
		mv.complete = true

	case messages.StreamError:
		mv.text.Reset()
		mv.text.WriteString(failureMessage)
		mv.complete = true
		mv.failed = true

	default:
		log.Printf("⚠️ stream: unknown event type %q", ev.Type)
	}
}

// Text returns the message so far.
func (mv *MessageView) Text() string { return mv.text.String() }

// Complete reports whether a terminal event arrived.
func (mv *MessageView) Complete() bool { return mv.complete }

// Failed reports whether the stream ended with an error event.
func (mv *MessageView) Failed() bool { return mv.failed }

// StreamClient issues chat requests and consumes the event stream.
type StreamClient struct {
	Endpoint   string
	HTTPClient *http.Client
	Store      *recipe.Store

	// OnFragment, when set, receives each content fragment as it arrives.
	OnFragment func(text string)
}

// Send posts one chat message and consumes the response stream to its
// terminal event. Cancelling ctx aborts the request mid-stream.
func (c *StreamClient) Send(ctx context.Context, message string, current *recipe.Snapshot, history []messages.Turn) (*MessageView, error) {
	body, err := sonic.Marshal(messages.ChatRequest{
		Message:             message,
		CurrentRecipe:       current,
		ConversationHistory: history,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpc := c.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request failed: status %d", resp.StatusCode)
	}

	view := NewMessageView(c.Store)
	parser := &FrameParser{}
	buf := make([]byte, 4096)

	for !view.Complete() {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				if ev.Type == messages.StreamContent && c.OnFragment != nil {
					c.OnFragment(ev.Content)
				}
				view.Apply(ev)
				if view.Complete() {
					break
				}
			}
		}
		if readErr != nil {
			break
		}
	}

	return view, nil
}
