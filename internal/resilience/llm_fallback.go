package resilience

import (
	"context"

	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/types"
)

// LLMFallback implements [llm.Provider] across a chain of language models.
// Failover covers getting an answer started; once a stream is open,
// mid-stream errors surface as chunks and stay with the caller, because
// replaying half a reply against a different model would stitch two voices
// together.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates the chain with primary as the preferred model.
func NewLLMFallback(name string, primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers one more model at the end of the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// StreamCompletion opens a completion stream on the first healthy model.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete asks the first healthy model for a full response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary model's capabilities. Metadata does not
// fail over: callers size requests for the model they will normally get.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
