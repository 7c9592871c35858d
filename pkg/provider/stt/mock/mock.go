// Package mock provides a test double for the stt package interface.
//
// Use Provider to script transcripts, inject errors, and simulate slow
// recognition for dispatcher timeout tests.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcripts: []stt.Transcript{{Text: "hello there"}},
//	    Delay:       50 * time.Millisecond,
//	}
//	transcript, err := p.Recognize(ctx, pcm)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parlo/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Provider.Recognize.
type RecognizeCall struct {
	// PCM is a copy of the utterance passed to Recognize.
	PCM []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned by successive Recognize calls in order. When
	// the script runs out, the final entry repeats; an empty script returns
	// the zero Transcript.
	Transcripts []stt.Transcript

	// RecognizeErr, if non-nil, is returned by every Recognize call.
	RecognizeErr error

	// Delay is how long Recognize blocks before returning. The wait honors
	// ctx cancellation, which makes the mock usable in timeout tests.
	Delay time.Duration

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call, waits Delay, and returns the next scripted
// Transcript, RecognizeErr.
func (p *Provider) Recognize(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.RecognizeCalls = append(p.RecognizeCalls, RecognizeCall{PCM: cp})
	call := len(p.RecognizeCalls) - 1
	delay := p.Delay
	err := p.RecognizeErr
	var result stt.Transcript
	if len(p.Transcripts) > 0 {
		i := call
		if i >= len(p.Transcripts) {
			i = len(p.Transcripts) - 1
		}
		result = p.Transcripts[i]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return result, nil
}

// RecognizeCallCount returns the number of Recognize calls. Thread-safe.
func (p *Provider) RecognizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RecognizeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
