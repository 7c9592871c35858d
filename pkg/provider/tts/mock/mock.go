// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled clips to consumers and to verify the text
// and VoiceProfile passed to the TTS backend. FailCount makes the first N
// calls fail, which exercises retry paths.
//
// Example:
//
//	p := &mock.Provider{
//	    Clips:            []tts.Clip{{PCM: pcm, Format: audio.PipelineFormat}},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	clip, _ := p.Synthesize(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the segment passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clips is the script of clips returned by successful Synthesize calls, in
	// order. When the script is exhausted the last entry repeats; an empty
	// script yields empty clips.
	Clips []tts.Clip

	// SynthesizeErr is the error returned by failing Synthesize calls. With
	// FailCount zero, every call fails while SynthesizeErr is set.
	SynthesizeErr error

	// FailCount makes only the first FailCount Synthesize calls return
	// SynthesizeErr; later calls succeed and consume the script.
	FailCount int

	// Delay, if non-zero, is how long Synthesize blocks before returning.
	// Cancelling ctx during the delay returns ctx.Err().
	Delay time.Duration

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	// clipIdx advances only on successful calls so a retried segment receives
	// the clip its first attempt would have.
	clipIdx int
}

// Synthesize records the call and returns the next scripted clip or the
// configured error.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Clip, error) {
	p.mu.Lock()
	callNum := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	delay := p.Delay

	var (
		clip tts.Clip
		err  error
	)
	if p.SynthesizeErr != nil && (p.FailCount == 0 || callNum < p.FailCount) {
		err = p.SynthesizeErr
	} else if len(p.Clips) > 0 {
		idx := min(p.clipIdx, len(p.Clips)-1)
		clip = p.Clips[idx]
		p.clipIdx++
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.Clip{}, ctx.Err()
		}
	}
	return clip, err
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns the number of recorded Synthesize calls.
// Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls and rewinds the clip script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
	p.clipIdx = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
