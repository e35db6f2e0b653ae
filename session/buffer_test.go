package session

import (
	"errors"
	"testing"
)

func TestAudioBufferAppendAndClear(t *testing.T) {
	buf := NewAudioBuffer(100)

	if err := buf.Append(make([]byte, 60)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := buf.Append(make([]byte, 40)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if buf.Size() != 100 {
		t.Errorf("Size() = %d, want 100", buf.Size())
	}

	buf.Clear()
	if !buf.IsEmpty() || buf.Size() != 0 {
		t.Errorf("Clear() left Size() = %d, IsEmpty() = %v", buf.Size(), buf.IsEmpty())
	}
}

func TestAudioBufferRejectsOverflow(t *testing.T) {
	buf := NewAudioBuffer(100)
	buf.Append(make([]byte, 100))

	err := buf.Append(make([]byte, 1))
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Append() error = %v, want ErrBufferFull", err)
	}
	if buf.Size() != 100 {
		t.Errorf("Size() = %d, rejected frame changed the size", buf.Size())
	}
}
