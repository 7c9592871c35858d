// Package audio implements the codec layer of the voice pipeline: Opus
// encode/decode, sample-rate/channel conversion to the pipeline's native
// format, 20 ms framing, and WAV container handling.
//
// Everything downstream of the transports operates on 16 kHz mono 16-bit
// little-endian PCM. The 20 ms frame size is load-bearing — it matches the
// play-out cadence — and must not vary.
package audio

import (
	"fmt"
	"time"
)

// Pipeline-native audio format: 16 kHz mono s16le, 20 ms frames.
const (
	// SampleRate is the sample rate all pipeline PCM uses, in Hz.
	SampleRate = 16000

	// Channels is the pipeline channel count (mono).
	Channels = 1

	// FrameDuration is the length of one Opus frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples in one 20 ms frame (320).
	FrameSamples = SampleRate / 1000 * 20

	// FrameBytes is the size of one 20 ms frame as s16le PCM (640).
	FrameBytes = FrameSamples * 2
)

// Encoding tags the payload format of a [Chunk]. Conversions between
// encodings happen only at defined boundaries: transports produce Opus (or
// re-encoded Opus), the codec yields PCM, nothing downstream guesses.
type Encoding int

const (
	// EncodingOpus is an Opus packet exactly as received from the client.
	EncodingOpus Encoding = iota

	// EncodingOpusReencoded is an Opus packet the server produced by
	// re-encoding PCM that arrived already decoded (WebRTC media plane).
	EncodingOpusReencoded

	// EncodingPCM16 is raw 16-bit little-endian signed PCM.
	EncodingPCM16
)

// String returns the wire-level name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingOpus:
		return "opus"
	case EncodingOpusReencoded:
		return "opus-converted"
	case EncodingPCM16:
		return "pcm16"
	default:
		return "unknown"
	}
}

// Chunk is one tagged unit of audio moving through a session: an Opus packet
// from the transport or a PCM slice produced by the codec. Chunks keep their
// arrival order end to end.
type Chunk struct {
	// Data is the payload in the format named by Encoding.
	Data []byte

	// Encoding tags the payload format.
	Encoding Encoding

	// SampleRate in Hz of the audio the payload represents.
	SampleRate int

	// Timestamp records when the chunk arrived at the server.
	Timestamp time.Time
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders the format as "16000Hz/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// PipelineFormat is the native format of all pipeline PCM.
var PipelineFormat = Format{SampleRate: SampleRate, Channels: Channels}
