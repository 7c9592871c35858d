package stt

import "time"

// Transcript is the result of recognizing one utterance.
type Transcript struct {
	// Text is the transcribed speech, whitespace-trimmed by the provider.
	// Empty means the utterance contained no recognizable speech.
	Text string

	// Language is the BCP-47 tag of the detected or configured language.
	// May be empty for providers that do not report it.
	Language string

	// Confidence is the overall confidence score (0.0-1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// AudioDuration is the length of the recognized utterance.
	AudioDuration time.Duration
}
