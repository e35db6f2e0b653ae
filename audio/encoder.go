package audio

import (
	"encoding/binary"
	"math"
)

const (
	// DefaultBlockSize is the number of samples accumulated before a frame
	// is emitted.
	DefaultBlockSize = 4096

	// SampleRate is the fixed capture and playback rate in Hz.
	SampleRate = 24000

	frameQueueSize = 16
)

// Frame is one encoded block of signed 16-bit little-endian mono PCM.
// Immutable once emitted; consumed exactly once by the transport.
type Frame []byte

// Quantize converts one float sample in [-1, 1] to a signed 16-bit value.
// Out-of-range input clamps, it never overflows.
func Quantize(sample float32) int16 {
	v := math.Round(float64(sample) * 32768)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Encoder accumulates float samples from a real-time audio callback and emits
// fixed-size PCM16 frames. It runs on the audio thread and hands frames to the
// transport over a buffered channel only, no shared memory or blocking. If
// the consumer falls behind, frames are dropped and counted rather than
// stalling the audio graph.
type Encoder struct {
	buf     []float32
	idx     int
	frames  chan Frame
	dropped int
	closed  bool
}

// NewEncoder creates an encoder with the given block size in samples.
func NewEncoder(blockSize int) *Encoder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Encoder{
		buf:    make([]float32, blockSize),
		frames: make(chan Frame, frameQueueSize),
	}
}

// Frames returns the channel of emitted PCM frames.
func (e *Encoder) Frames() <-chan Frame {
	return e.frames
}

// Dropped returns how many frames were discarded because the queue was full.
func (e *Encoder) Dropped() int {
	return e.dropped
}

// Process consumes one callback block of input samples. It always returns
// true: the audio graph must keep running whether or not a frame was emitted.
func (e *Encoder) Process(input []float32) bool {
	if e.closed {
		return true
	}

	for _, sample := range input {
		e.buf[e.idx] = sample
		e.idx++
		if e.idx == len(e.buf) {
			e.emit()
			e.idx = 0
		}
	}
	return true
}

// emit quantizes the full accumulation buffer into a new frame.
func (e *Encoder) emit() {
	frame := make(Frame, len(e.buf)*2)
	for i, sample := range e.buf {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(Quantize(sample)))
	}

	select {
	case e.frames <- frame:
	default:
		e.dropped++
	}
}

// Close discards any partial buffer and closes the frame channel. A block
// that never reached the full size is never emitted.
func (e *Encoder) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.idx = 0
	close(e.frames)
}
