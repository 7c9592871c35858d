// Package mock provides test doubles for the vad package interfaces.
//
// Engine hands out a scripted session and remembers the configs it was asked
// for; Session plays back detection results and keeps copies of the windows
// it received.
//
// Example:
//
//	sess := &mock.Session{
//	    Results: []vad.Result{{Speech: true, Probability: 0.9}},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/parlo/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the config the caller passed in.
	Cfg vad.Config
}

// Engine is a scripted vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is what NewSession hands out. Nil means a fresh default
	// Session per call.
	Session vad.SessionHandle

	// NewSessionErr, when set, makes NewSession fail.
	NewSessionErr error

	// NewSessionCalls collects every NewSession invocation in order.
	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns the scripted session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears the call record, keeping the scripted session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// DetectCall records a single invocation of Session.Detect.
type DetectCall struct {
	// Window is a copy of the samples the caller passed in.
	Window []float32
}

// Session is a scripted vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Results feed successive Detect calls in order. Once the script runs
	// out the last entry repeats; with no script every call returns the
	// zero Result.
	Results []vad.Result

	// DetectErr, when set, makes every Detect call fail.
	DetectErr error

	// CloseErr, when set, is returned by Close.
	CloseErr error

	// DetectCalls collects every Detect invocation in order.
	DetectCalls []DetectCall

	// ResetCallCount counts Reset invocations.
	ResetCallCount int

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

var _ vad.SessionHandle = (*Session)(nil)

// Detect records the window and returns the next scripted Result.
func (s *Session) Detect(window []float32) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DetectCalls = append(s.DetectCalls, DetectCall{Window: append([]float32(nil), window...)})

	if s.DetectErr != nil {
		return vad.Result{}, s.DetectErr
	}
	if len(s.Results) == 0 {
		return vad.Result{}, nil
	}
	i := min(len(s.DetectCalls)-1, len(s.Results)-1)
	return s.Results[i], nil
}

// Reset counts the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close counts the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears the call records, keeping the scripted results.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DetectCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
}
