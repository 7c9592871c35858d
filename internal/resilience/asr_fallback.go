package resilience

import (
	"context"

	"github.com/MrWong99/parlo/pkg/provider/stt"
)

// ASRFallback implements [stt.Provider] across a chain of recognisers. Each
// backend sits behind its own breaker; an utterance that the primary cannot
// transcribe is retried against the next healthy fallback.
type ASRFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*ASRFallback)(nil)

// NewASRFallback creates the chain with primary as the preferred backend.
func NewASRFallback(name string, primary stt.Provider, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers one more recogniser at the end of the chain.
func (f *ASRFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize transcribes the utterance with the first healthy backend. The
// dispatcher's deadline bounds the whole chain, not each attempt.
func (f *ASRFallback) Recognize(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Recognize(ctx, pcm)
	})
}
