package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

// dialVoicePair spins up a websocket pair with the VoiceClient on the client
// side and hands back the server side for scripting frames.
func dialVoicePair(t *testing.T, store *recipe.Store, handlers VoiceHandlers) (*VoiceClient, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	vc, err := DialVoice(context.Background(), url, store, handlers)
	if err != nil {
		t.Fatalf("DialVoice() error = %v", err)
	}
	serverConn := <-connCh
	t.Cleanup(func() {
		vc.Close()
		serverConn.Close()
	})

	go vc.Listen()
	return vc, serverConn
}

func writeControlFrame(t *testing.T, conn *websocket.Conn, ctrl *messages.Control) {
	t.Helper()
	data, err := sonic.Marshal(ctrl)
	if err != nil {
		t.Fatalf("marshal control: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func recvString(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestVoiceClientDispatchesControlFrames(t *testing.T) {
	connected := make(chan string, 1)
	transcript := make(chan string, 1)
	response := make(chan string, 1)
	turnDone := make(chan struct{}, 1)
	errs := make(chan string, 1)

	_, server := dialVoicePair(t, recipe.NewStore(), VoiceHandlers{
		OnConnected:          func(message string) { connected <- message },
		OnTranscript:         func(text string) { transcript <- text },
		OnResponseTranscript: func(text string) { response <- text },
		OnTurnComplete:       func() { turnDone <- struct{}{} },
		OnError:              func(code, message string) { errs <- code },
	})

	writeControlFrame(t, server, messages.NewConnected("Session established"))
	if got := recvString(t, connected, "connected"); got != "Session established" {
		t.Errorf("OnConnected got %q", got)
	}

	writeControlFrame(t, server, messages.NewTranscript("add more garlic"))
	if got := recvString(t, transcript, "transcript"); got != "add more garlic" {
		t.Errorf("OnTranscript got %q", got)
	}

	writeControlFrame(t, server, messages.NewResponseTranscript("Two cloves it is."))
	if got := recvString(t, response, "response transcript"); got != "Two cloves it is." {
		t.Errorf("OnResponseTranscript got %q", got)
	}

	writeControlFrame(t, server, messages.NewTurnComplete())
	select {
	case <-turnDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn complete")
	}

	writeControlFrame(t, server, messages.NewError(messages.ErrCodeUpstreamError, "boom"))
	if got := recvString(t, errs, "error"); got != messages.ErrCodeUpstreamError {
		t.Errorf("OnError code = %q, want %q", got, messages.ErrCodeUpstreamError)
	}
}

func TestVoiceClientAppliesRecipeUpdate(t *testing.T) {
	store := recipe.NewStore()
	updated := make(chan recipe.Snapshot, 1)

	_, server := dialVoicePair(t, store, VoiceHandlers{
		OnRecipeUpdate: func(snap recipe.Snapshot) { updated <- snap },
	})

	snap := recipe.Snapshot{
		ID:          "r1",
		Title:       "Garlic Bread",
		Ingredients: []recipe.Ingredient{{Text: "1 baguette"}},
		Steps:       []recipe.Step{{Title: "Step 1", Description: "Slice it"}},
		LastUpdated: 100,
	}
	writeControlFrame(t, server, messages.NewRecipeUpdate(snap))

	select {
	case got := <-updated:
		if got.Title != "Garlic Bread" {
			t.Errorf("OnRecipeUpdate got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recipe update")
	}

	stored, ok := store.Get("r1")
	if !ok || stored.LastUpdated != 100 {
		t.Errorf("store holds %+v, update not applied", stored)
	}
}

func TestVoiceClientIgnoresStaleRecipeUpdate(t *testing.T) {
	store := recipe.NewStore()
	store.Replace(recipe.Snapshot{ID: "r1", Title: "Current", LastUpdated: 200})

	updated := make(chan recipe.Snapshot, 1)
	_, server := dialVoicePair(t, store, VoiceHandlers{
		OnRecipeUpdate: func(snap recipe.Snapshot) { updated <- snap },
	})

	writeControlFrame(t, server, messages.NewRecipeUpdate(recipe.Snapshot{
		ID: "r1", Title: "Stale", LastUpdated: 50,
	}))

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recipe update dispatch")
	}

	stored, _ := store.Get("r1")
	if stored.Title != "Current" {
		t.Errorf("Title = %q, stale update overwrote a newer snapshot", stored.Title)
	}
}

func TestVoiceClientRelaysBinaryAudio(t *testing.T) {
	audio := make(chan []byte, 1)
	_, server := dialVoicePair(t, recipe.NewStore(), VoiceHandlers{
		OnAudio: func(data []byte) { audio <- data },
	})

	payload := []byte{10, 20, 30, 40}
	if err := server.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	select {
	case got := <-audio:
		if len(got) != len(payload) || got[0] != 10 {
			t.Errorf("OnAudio got %v, want %v", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio")
	}
}

func TestVoiceClientSurvivesMalformedFrame(t *testing.T) {
	transcript := make(chan string, 1)
	_, server := dialVoicePair(t, recipe.NewStore(), VoiceHandlers{
		OnTranscript: func(text string) { transcript <- text },
	})

	// garbage, then a recipe_update with no recipe, then a valid frame: the
	// read loop must still be alive to deliver the transcript
	server.WriteMessage(websocket.TextMessage, []byte("{not json"))
	writeControlFrame(t, server, &messages.Control{Type: messages.TypeRecipeUpdate})
	writeControlFrame(t, server, messages.NewTranscript("still here"))

	if got := recvString(t, transcript, "transcript after malformed frames"); got != "still here" {
		t.Errorf("OnTranscript got %q", got)
	}
}

func TestVoiceClientSendsProtocolFrames(t *testing.T) {
	store := recipe.NewStore()
	vc, server := dialVoicePair(t, store, VoiceHandlers{})

	current := &recipe.Snapshot{ID: "r1", Title: "Stew", LastUpdated: 5}
	if err := vc.SendSetup(current, "no cilantro"); err != nil {
		t.Fatalf("SendSetup() error = %v", err)
	}
	if err := vc.SendAudioFrame([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudioFrame() error = %v", err)
	}
	if err := vc.EndTurn(); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))

	messageType, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("read setup: %v", err)
	}
	var setup messages.Control
	if err := sonic.Unmarshal(data, &setup); err != nil {
		t.Fatalf("unmarshal setup: %v", err)
	}
	if setup.Type != messages.TypeSessionSetup || setup.Instructions != "no cilantro" {
		t.Errorf("setup frame = %+v", setup)
	}
	if setup.CurrentRecipe == nil || setup.CurrentRecipe.ID != "r1" {
		t.Errorf("setup recipe = %+v", setup.CurrentRecipe)
	}

	messageType, data, err = server.ReadMessage()
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if messageType != websocket.BinaryMessage || len(data) != 3 {
		t.Errorf("audio frame type = %d len = %d, want binary of 3 bytes", messageType, len(data))
	}

	_, data, err = server.ReadMessage()
	if err != nil {
		t.Fatalf("read end_turn: %v", err)
	}
	var endTurn messages.Control
	if err := sonic.Unmarshal(data, &endTurn); err != nil {
		t.Fatalf("unmarshal end_turn: %v", err)
	}
	if endTurn.Type != messages.TypeEndTurn {
		t.Errorf("frame type = %q, want %q", endTurn.Type, messages.TypeEndTurn)
	}
}

func TestVoiceClientCloseRejectsWrites(t *testing.T) {
	vc, _ := dialVoicePair(t, recipe.NewStore(), VoiceHandlers{})

	if err := vc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := vc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := vc.SendAudioFrame([]byte{1}); err == nil {
		t.Error("SendAudioFrame() error = nil after close")
	}
	if err := vc.EndTurn(); err == nil {
		t.Error("EndTurn() error = nil after close")
	}

	select {
	case <-vc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after close")
	}
}
