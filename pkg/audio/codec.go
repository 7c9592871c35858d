package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxDecodeSamples bounds a single Opus packet at 60 ms: clients normally
// send 20 ms packets but some firmwares batch up to three frames.
const maxDecodeSamples = FrameSamples * 3

// Decoder turns Opus packets into pipeline PCM. It carries libopus state
// across packets, so one Decoder serves exactly one inbound stream and must
// not be shared between sessions.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder for the pipeline format.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet into s16le PCM. A malformed packet returns
// an error and leaves the decoder usable for the next packet.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxDecodeSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Encoder turns 20 ms pipeline PCM frames into Opus packets. Like Decoder it
// is stateful and belongs to a single outbound stream.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an encoder for the pipeline format tuned for full-band
// speech rather than low-latency VoIP.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode encodes exactly one 20 ms PCM frame. Callers frame and pad with
// [FramePCM] first; anything other than FrameBytes of input is an error.
func (e *Encoder) Encode(frame []byte) ([]byte, error) {
	if len(frame) != FrameBytes {
		return nil, fmt.Errorf("audio: opus encode: frame is %d bytes, want %d", len(frame), FrameBytes)
	}
	packet, err := e.enc.Encode(bytesToInt16s(frame), FrameSamples, FrameBytes)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

func int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}
