package session

import (
	"sync"
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
)

// DefaultMaxUtterance is the audio span after which an utterance is
// force-dispatched to recognition even without an end-of-speech event.
const DefaultMaxUtterance = 60 * time.Second

// UtteranceBuffer accumulates the audio chunks of the utterance currently
// being spoken, in arrival order. On speech end the whole list is taken
// atomically and handed to the recognition dispatcher.
//
// Capture is paced by real time, so the arrival span of the buffered chunks
// measures the audio length; the span cap guards against a client that never
// stops sending speech.
//
// All methods are safe for concurrent use.
type UtteranceBuffer struct {
	mu     sync.Mutex
	chunks []audio.Chunk
	max    time.Duration
}

// NewUtteranceBuffer creates a buffer with the given span cap. A zero cap
// means [DefaultMaxUtterance].
func NewUtteranceBuffer(max time.Duration) *UtteranceBuffer {
	if max <= 0 {
		max = DefaultMaxUtterance
	}
	return &UtteranceBuffer{max: max}
}

// Append adds a chunk to the buffer. It reports whether the buffered span
// now exceeds the cap, in which case the caller must take the utterance and
// dispatch it. Nothing is dropped on overflow.
func (b *UtteranceBuffer) Append(c audio.Chunk) (over bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
	return b.span() > b.max
}

// TakeAll removes and returns every buffered chunk, oldest first. Ownership
// of the returned slice passes to the caller; the buffer is empty afterwards.
func (b *UtteranceBuffer) TakeAll() []audio.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	chunks := b.chunks
	b.chunks = nil
	return chunks
}

// Clear discards every buffered chunk.
func (b *UtteranceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}

// TrimTo drops all but the newest n chunks. While no speech has been
// detected yet the buffer is kept as a short pre-roll this way, so the
// first utterance window is not lost to detection latency.
func (b *UtteranceBuffer) TrimTo(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if len(b.chunks) > n {
		b.chunks = b.chunks[len(b.chunks)-n:]
	}
}

// Len returns the number of buffered chunks.
func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Span returns the arrival span of the buffered chunks: the time between the
// oldest and newest chunk. Zero for fewer than two chunks.
func (b *UtteranceBuffer) Span() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.span()
}

// span must be called with b.mu held.
func (b *UtteranceBuffer) span() time.Duration {
	if len(b.chunks) < 2 {
		return 0
	}
	return b.chunks[len(b.chunks)-1].Timestamp.Sub(b.chunks[0].Timestamp)
}
