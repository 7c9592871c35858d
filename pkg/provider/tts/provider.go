// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI speech, a
// local Coqui server, or the Edge read-aloud endpoint) and presents a uniform
// batch interface: one Synthesize call per reply segment. The playout layer
// splits replies into sentence-sized segments and calls Synthesize once per
// segment, so providers never see partial sentences and need no internal text
// buffering.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/parlo/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel (segments of different sessions synthesise concurrently).
type Provider interface {
	// Synthesize renders one segment of text as speech in the given voice and
	// returns the complete clip. The clip carries PCM at the provider's native
	// rate; callers convert to the pipeline format before encoding.
	//
	// voice specifies the voice profile to use. Providers should return an
	// error if the requested voice is not available. An empty text segment
	// returns an empty clip and no error.
	//
	// Synthesize must honour ctx cancellation: a cancelled context aborts the
	// request and returns ctx.Err().
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (Clip, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
