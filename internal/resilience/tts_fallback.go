package resilience

import (
	"context"

	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

// TTSFallback implements [tts.Provider] across a chain of synthesisers.
// Segments are independent, so a reply can in principle change voice
// mid-stream when the primary dies between segments; that beats going
// silent.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates the chain with primary as the preferred backend.
func NewTTSFallback(name string, primary tts.Provider, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers one more synthesiser at the end of the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one segment with the first healthy backend. A voice
// the fallback does not know is that backend's error to report, which moves
// the chain along to the next.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Clip, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (tts.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the catalogue of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
