package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/sunfac/flavr-sub007/audio"
	"github.com/sunfac/flavr-sub007/client"
	"github.com/sunfac/flavr-sub007/recipe"
)

// AudioPlayer streams response audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", "24000",
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stdin == nil {
		return
	}
	p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Wait()
	}
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/voice", "Voice WebSocket URL")
	audioFile := flag.String("file", "examples/user.pcm", "Audio file to send (PCM or WAV)")
	flag.Parse()

	log.Printf("🔌 Connecting to %s...", *serverURL)

	store := recipe.NewStore()

	player := NewAudioPlayer()
	if player == nil {
		log.Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	turnDone := make(chan struct{}, 1)

	vc, err := client.DialVoice(context.Background(), *serverURL, store, client.VoiceHandlers{
		OnConnected: func(message string) {
			log.Printf("✅ Session ready: %s", message)
		},
		OnTranscript: func(text string) {
			fmt.Printf("🎤 You: %s\n", text)
		},
		OnResponseTranscript: func(text string) {
			fmt.Printf("💬 %s\n", text)
		},
		OnRecipeUpdate: func(snap recipe.Snapshot) {
			log.Printf("📋 Recipe updated: %s (%d ingredients, %d steps)",
				snap.Title, len(snap.Ingredients), len(snap.Steps))
		},
		OnAudio: func(data []byte) {
			log.Printf("🔊 Playing audio: %d bytes", len(data))
			player.Play(data)
		},
		OnTurnComplete: func() {
			log.Println("--- Turn complete ---")
			select {
			case turnDone <- struct{}{}:
			default:
			}
		},
		OnError: func(code, message string) {
			log.Printf("❌ Error [%s]: %s", code, message)
		},
	})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer vc.Close()

	log.Println("✅ Connected!")

	go vc.Listen()

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	if err := vc.SendSetup(nil, ""); err != nil {
		log.Fatalf("Failed to send setup: %v", err)
	}

	// Give the upstream a moment to negotiate
	time.Sleep(500 * time.Millisecond)

	log.Printf("📤 Sending audio file: %s", *audioFile)

	samples, err := loadSamples(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	// Run the samples through the encoder in callback-size blocks while a
	// second goroutine forwards emitted frames, simulating a live capture path.
	enc := audio.NewEncoder(audio.DefaultBlockSize)

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		n := 0
		for frame := range enc.Frames() {
			if err := vc.SendAudioFrame(frame); err != nil {
				log.Printf("Send error: %v", err)
				return
			}
			n++
			log.Printf("📤 Sent frame %d (%d bytes)", n, len(frame))
		}
	}()

	const callbackSize = 128
	for i := 0; i < len(samples); i += callbackSize {
		end := i + callbackSize
		if end > len(samples) {
			end = len(samples)
		}
		enc.Process(samples[i:end])
		// Simulate real-time capture pace
		time.Sleep(time.Duration(end-i) * time.Second / audio.SampleRate)
	}
	enc.Close()
	<-sendDone

	if enc.Dropped() > 0 {
		log.Printf("⚠️ Dropped %d frames (transport fell behind)", enc.Dropped())
	}

	if err := vc.EndTurn(); err != nil {
		log.Printf("Failed to end turn: %v", err)
	}

	log.Println("✅ Audio sent, waiting for response...")

	select {
	case <-turnDone:
		// Let trailing audio drain before tearing down sox
		time.Sleep(2 * time.Second)
	case <-vc.Done():
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
	case <-time.After(30 * time.Second):
		log.Println("⏰ Timeout waiting for response")
	}
}

// loadSamples loads a PCM16 or WAV file and converts it to float samples for
// the encoder.
func loadSamples(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		log.Println("📁 Detected WAV file, skipping header")
		data = data[44:]
	} else {
		log.Println("📁 Detected raw PCM file")
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}
