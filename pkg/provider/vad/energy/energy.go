// Package energy implements a model-free VAD engine based on smoothed RMS
// energy. It trades accuracy for zero external dependencies: no sidecar, no
// model weights, usable as the default engine and as a fallback when a model
// backend is unreachable.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/parlo/pkg/provider/vad"
)

const (
	// smoothingAlpha is the exponential smoothing factor applied to the raw
	// RMS before mapping it to a probability.
	smoothingAlpha = 0.3

	// noiseFloor is the RMS below which a window is certainly not speech.
	noiseFloor = 0.015

	// speechCeiling is the RMS of loud close-mic speech; energies at or
	// above it map to probability 1.0.
	speechCeiling = 0.5
)

var errSessionClosed = errors.New("energy: session closed")

// Engine creates RMS-based VAD sessions.
type Engine struct{}

// New returns a ready Engine. The engine itself is stateless; all detection
// state lives in the sessions.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.WindowSamples == 0 {
		cfg.WindowSamples = vad.DefaultWindowSamples
	}
	if cfg.WindowSamples < 0 {
		return nil, fmt.Errorf("energy: invalid window size %d", cfg.WindowSamples)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = vad.DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("energy: threshold %v out of range (0, 1]", cfg.Threshold)
	}
	return &session{cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	cfg vad.Config

	mu       sync.Mutex
	smoothed float64
	closed   bool
}

// Detect implements vad.SessionHandle.
func (s *session) Detect(window []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, errSessionClosed
	}
	if len(window) != s.cfg.WindowSamples {
		return vad.Result{}, fmt.Errorf("energy: window is %d samples, want %d", len(window), s.cfg.WindowSamples)
	}

	var sumSquares float64
	for _, v := range window {
		sumSquares += float64(v) * float64(v)
	}
	rms := math.Sqrt(sumSquares / float64(len(window)))

	s.smoothed = smoothingAlpha*rms + (1-smoothingAlpha)*s.smoothed

	prob := (s.smoothed - noiseFloor) / (speechCeiling - noiseFloor)
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}

	p := float32(prob)
	return vad.Result{Speech: p >= s.cfg.Threshold, Probability: p}, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothed = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
