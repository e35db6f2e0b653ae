package audio

import (
	"encoding/binary"
	"testing"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full negative", -1.0, -32768},
		{"full positive clamps", 1.0, 32767},
		{"overdrive clamps high", 1.5, 32767},
		{"overdrive clamps low", -1.5, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quantize(tt.sample); got != tt.want {
				t.Errorf("Quantize(%v) = %d, want %d", tt.sample, got, tt.want)
			}
		})
	}
}

func drainFrames(e *Encoder) []Frame {
	var frames []Frame
	for {
		select {
		case frame, ok := <-e.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestEncoderEmitsFullBlocks(t *testing.T) {
	enc := NewEncoder(256)

	// 1000 samples across uneven callback sizes: 3 full blocks, 232 left over
	input := make([]float32, 1000)
	for i := range input {
		input[i] = 0.25
	}
	for i := 0; i < len(input); i += 128 {
		end := i + 128
		if end > len(input) {
			end = len(input)
		}
		if !enc.Process(input[i:end]) {
			t.Fatal("Process() = false, audio graph must keep running")
		}
	}

	frames := drainFrames(enc)
	if len(frames) != 3 {
		t.Fatalf("emitted %d frames, want 3", len(frames))
	}
	for i, frame := range frames {
		if len(frame) != 256*2 {
			t.Errorf("frame %d size = %d bytes, want %d", i, len(frame), 256*2)
		}
	}

	want := Quantize(0.25)
	got := int16(binary.LittleEndian.Uint16(frames[0]))
	if got != want {
		t.Errorf("first sample = %d, want %d", got, want)
	}
}

func TestEncoderDiscardsPartialOnClose(t *testing.T) {
	enc := NewEncoder(256)

	enc.Process(make([]float32, 100))
	enc.Close()

	frames := drainFrames(enc)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames, want 0: a partial block is never flushed", len(frames))
	}
}

func TestEncoderCarriesRemainderAcrossCalls(t *testing.T) {
	enc := NewEncoder(4)

	enc.Process([]float32{0.1, 0.2, 0.3})
	if frames := drainFrames(enc); len(frames) != 0 {
		t.Fatalf("emitted %d frames before the block filled", len(frames))
	}

	enc.Process([]float32{0.4, 0.5})
	frames := drainFrames(enc)
	if len(frames) != 1 {
		t.Fatalf("emitted %d frames, want 1 once the block filled", len(frames))
	}

	// First block is the first four samples; 0.5 stays buffered
	want := []float32{0.1, 0.2, 0.3, 0.4}
	for i, sample := range want {
		got := int16(binary.LittleEndian.Uint16(frames[0][i*2:]))
		if got != Quantize(sample) {
			t.Errorf("sample %d = %d, want %d", i, got, Quantize(sample))
		}
	}
}

func TestEncoderDropsWhenQueueFull(t *testing.T) {
	enc := NewEncoder(8)

	// Nobody reading: queue fills at frameQueueSize, the rest are dropped
	blocks := frameQueueSize + 5
	enc.Process(make([]float32, blocks*8))

	if enc.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", enc.Dropped())
	}
	if frames := drainFrames(enc); len(frames) != frameQueueSize {
		t.Errorf("queued %d frames, want %d", len(frames), frameQueueSize)
	}
}

func TestEncoderProcessAfterClose(t *testing.T) {
	enc := NewEncoder(4)
	enc.Close()

	if !enc.Process([]float32{0.1, 0.2, 0.3, 0.4}) {
		t.Fatal("Process() = false after close, want true")
	}
	if frames := drainFrames(enc); len(frames) != 0 {
		t.Fatal("closed encoder emitted a frame")
	}
}
