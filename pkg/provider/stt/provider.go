// Package stt defines the Provider interface for speech-to-text backends.
//
// Recognition is batch-oriented: the voice gate segments the inbound stream
// into complete utterances, and each utterance is transcribed in a single
// call. Backends that only expose streaming APIs adapt by submitting the
// whole utterance at once and waiting for the final result.
//
// Implementations must be safe for concurrent use. The dispatcher guarantees
// at most one in-flight recognition per session, but a single Provider
// instance serves every session on the server.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes one utterance of 16 kHz mono s16le PCM and
	// returns the final transcript. It blocks until transcription finishes
	// or ctx is done; callers bound the wait with a deadline.
	//
	// An empty utterance yields an empty Transcript and no error.
	Recognize(ctx context.Context, pcm []byte) (Transcript, error)
}
