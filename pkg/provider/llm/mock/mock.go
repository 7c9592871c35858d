// Package mock provides a test double for the llm.Provider interface.
//
// Provider plays back scripted chunks and responses so dialogue tests run
// without a live backend. Configure the response fields before handing the
// mock to the code under test; the call records can be read back afterwards.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hello."}, {FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/types"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context the caller passed in.
	Ctx context.Context
	// Req is the request the caller passed in.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context the caller passed in.
	Ctx context.Context
	// Req is the request the caller passed in.
	Req llm.CompletionRequest
}

// Provider is a scripted llm.Provider. The zero value streams nothing and
// completes with a nil response; populate the response fields to change that.
// Response fields must not be mutated while a call is in flight.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the chunk sequence played back by StreamCompletion
	// before its channel closes.
	StreamChunks []llm.Chunk

	// ChunkDelay, if non-zero, is the pause before each chunk is emitted.
	// Cancellation tests use it to keep a stream in flight.
	ChunkDelay time.Duration

	// StreamErr, when set, makes StreamCompletion fail up front instead of
	// opening a channel.
	StreamErr error

	// CompleteResponse is what Complete hands back. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, when set, is returned by Complete.
	CompleteErr error

	// ModelCapabilities is what Capabilities hands back.
	ModelCapabilities types.ModelCapabilities

	// StreamCalls collects every StreamCompletion invocation in order.
	StreamCalls []StreamCall

	// CompleteCalls collects every Complete invocation in order.
	CompleteCalls []CompleteCall

	// CapabilitiesCallCount counts Capabilities invocations.
	CapabilitiesCallCount int
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call, then plays back StreamChunks on a fresh
// channel. With StreamErr set it fails immediately and opens no channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	script := append([]llm.Chunk(nil), p.StreamChunks...)
	delay := p.ChunkDelay
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the scripted response pair.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears the call records, keeping the scripted responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CapabilitiesCallCount = 0
}
