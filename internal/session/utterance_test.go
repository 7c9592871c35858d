package session_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/audio"
)

// chunkAt builds an Opus chunk with the given payload byte and arrival time.
func chunkAt(payload byte, at time.Time) audio.Chunk {
	return audio.Chunk{
		Data:       []byte{payload},
		Encoding:   audio.EncodingOpus,
		SampleRate: audio.SampleRate,
		Timestamp:  at,
	}
}

func TestUtteranceBuffer_AppendAndTakeAll(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	now := time.Now()

	for i := range 5 {
		over := buf.Append(chunkAt(byte(i), now.Add(time.Duration(i)*20*time.Millisecond)))
		if over {
			t.Fatalf("Append #%d reported over-cap", i)
		}
	}
	if got := buf.Len(); got != 5 {
		t.Fatalf("Len = %d, want 5", got)
	}

	chunks := buf.TakeAll()
	if len(chunks) != 5 {
		t.Fatalf("TakeAll returned %d chunks, want 5", len(chunks))
	}
	for i, c := range chunks {
		if c.Data[0] != byte(i) {
			t.Fatalf("chunk %d has payload %d, arrival order lost", i, c.Data[0])
		}
	}

	if got := buf.Len(); got != 0 {
		t.Errorf("Len after TakeAll = %d, want 0", got)
	}
	if got := buf.TakeAll(); got != nil {
		t.Errorf("second TakeAll = %v, want nil", got)
	}
}

func TestUtteranceBuffer_TakeAllHandsOverOwnership(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	now := time.Now()
	buf.Append(chunkAt(1, now))
	buf.Append(chunkAt(2, now.Add(20*time.Millisecond)))

	taken := buf.TakeAll()
	buf.Append(chunkAt(9, now.Add(40*time.Millisecond)))

	if len(taken) != 2 {
		t.Fatalf("taken has %d chunks, want 2", len(taken))
	}
	if taken[0].Data[0] != 1 || taken[1].Data[0] != 2 {
		t.Error("later appends must not show up in a previously taken slice")
	}
}

func TestUtteranceBuffer_Clear(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	buf.Append(chunkAt(1, time.Now()))
	buf.Clear()

	if got := buf.Len(); got != 0 {
		t.Errorf("Len after Clear = %d, want 0", got)
	}
}

func TestUtteranceBuffer_TrimTo(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	now := time.Now()
	for i := range 5 {
		buf.Append(chunkAt(byte(i), now.Add(time.Duration(i)*20*time.Millisecond)))
	}

	buf.TrimTo(2)
	if got := buf.Len(); got != 2 {
		t.Fatalf("Len after TrimTo(2) = %d, want 2", got)
	}

	// The newest chunks survive.
	chunks := buf.TakeAll()
	if chunks[0].Data[0] != 3 || chunks[1].Data[0] != 4 {
		t.Errorf("kept chunks = %d, %d, want 3, 4", chunks[0].Data[0], chunks[1].Data[0])
	}

	// Trimming an empty or small buffer is a no-op.
	buf.Append(chunkAt(9, now))
	buf.TrimTo(5)
	if got := buf.Len(); got != 1 {
		t.Errorf("Len after no-op trim = %d, want 1", got)
	}
}

func TestUtteranceBuffer_SpanCap(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(100 * time.Millisecond)
	now := time.Now()

	if over := buf.Append(chunkAt(1, now)); over {
		t.Fatal("first chunk should never exceed the cap")
	}
	if over := buf.Append(chunkAt(2, now.Add(80*time.Millisecond))); over {
		t.Fatal("span 80ms should be under a 100ms cap")
	}
	if over := buf.Append(chunkAt(3, now.Add(150*time.Millisecond))); !over {
		t.Fatal("span 150ms should exceed a 100ms cap")
	}

	// Nothing is dropped on overflow; the caller dispatches the whole list.
	if got := buf.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}

func TestUtteranceBuffer_DefaultCap(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	now := time.Now()

	buf.Append(chunkAt(1, now))
	if over := buf.Append(chunkAt(2, now.Add(59*time.Second))); over {
		t.Fatal("59s span should be under the default cap")
	}
	if over := buf.Append(chunkAt(3, now.Add(61*time.Second))); !over {
		t.Fatal("61s span should exceed the default cap")
	}
}

func TestUtteranceBuffer_Span(t *testing.T) {
	t.Parallel()

	buf := session.NewUtteranceBuffer(0)
	now := time.Now()

	if got := buf.Span(); got != 0 {
		t.Errorf("Span of empty buffer = %v, want 0", got)
	}
	buf.Append(chunkAt(1, now))
	if got := buf.Span(); got != 0 {
		t.Errorf("Span of single chunk = %v, want 0", got)
	}
	buf.Append(chunkAt(2, now.Add(200*time.Millisecond)))
	if got := buf.Span(); got != 200*time.Millisecond {
		t.Errorf("Span = %v, want 200ms", got)
	}
}
