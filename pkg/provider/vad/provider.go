// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a window-level speech detector (Silero VAD over its gRPC
// sidecar, the built-in energy detector, or a custom model) and surfaces it as
// a stateful per-stream session. Each session maintains its own internal
// state (smoothing history, model hidden state) so that concurrent audio
// streams are detected independently.
//
// Detection is synchronous: Detect returns immediately with a speech
// probability for one fixed-size window, making it suitable for the gate
// stage that sits directly on the inbound audio path.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// DefaultWindowSamples is the analysis window size the supported detectors
// operate on: 512 samples, 32 ms at the 16 kHz pipeline rate.
const DefaultWindowSamples = 512

// DefaultThreshold is the speech probability above which a window counts as
// speech when the configuration does not say otherwise.
const DefaultThreshold = 0.5

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the windows passed to
	// Detect. Supported detectors expect 16000.
	SampleRate int

	// WindowSamples is the number of samples per Detect call. Zero means
	// DefaultWindowSamples. Detect returns an error for windows of any
	// other size.
	WindowSamples int

	// Threshold is the probability at or above which a window is classified
	// as speech. Range (0.0, 1.0]; zero means DefaultThreshold.
	Threshold float32
}

// SessionHandle is an active VAD session for a single audio stream. Reset
// clears detection state without closing the session; use it when the stream
// restarts so a previous segment cannot bleed into the next.
//
// A SessionHandle must not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Detect classifies one window of normalized samples in [-1, 1]. The
	// window length must match the configured WindowSamples. Detect is
	// called on the inbound audio path and must not block.
	Detect(window []float32) (Result, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session's resources. Detect returns an error after
	// Close. Closing twice is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration, ready to
	// accept windows. It returns an error if the configuration is invalid
	// or if backend resources cannot be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}
