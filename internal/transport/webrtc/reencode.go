package webrtc

import (
	"fmt"
	"log/slog"
	"strings"

	pion "github.com/pion/webrtc/v3"

	"github.com/MrWong99/parlo/pkg/audio"
)

// mimeTypeL16 is uncompressed 16-bit PCM over RTP, the one non-Opus audio
// codec with a re-encode fallback.
const mimeTypeL16 = "audio/L16"

// reencoder turns raw PCM RTP payloads into pipeline-format Opus packets, so
// a track that negotiated uncompressed audio is indistinguishable downstream
// from an Opus one. One reencoder serves one inbound track.
type reencoder struct {
	conv  audio.Converter
	enc   *audio.Encoder
	src   audio.Format
	stash []byte
}

// newReencoder creates the fallback for a non-Opus track, or reports that
// the codec has none.
func newReencoder(codec pion.RTPCodecParameters) (*reencoder, error) {
	if !strings.EqualFold(codec.MimeType, mimeTypeL16) {
		return nil, fmt.Errorf("webrtc: no fallback for codec %s", codec.MimeType)
	}
	enc, err := audio.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("webrtc: create fallback encoder: %w", err)
	}
	channels := int(codec.Channels)
	if channels == 0 {
		channels = 1
	}
	return &reencoder{
		enc: enc,
		src: audio.Format{SampleRate: int(codec.ClockRate), Channels: channels},
	}, nil
}

// push converts one RTP payload of network-order PCM and returns an Opus
// packet for every complete 20 ms frame it completes. Residual samples stay
// stashed for the next payload; conversion failures drop the payload.
func (r *reencoder) push(payload []byte) [][]byte {
	// L16 is network byte order; the converter wants little-endian.
	le := make([]byte, len(payload)&^1)
	for i := 0; i+1 < len(payload); i += 2 {
		le[i], le[i+1] = payload[i+1], payload[i]
	}

	pcm, err := r.conv.Convert(le, r.src)
	if err != nil {
		slog.Debug("webrtc: convert track payload", "err", err)
		return nil
	}
	r.stash = append(r.stash, pcm...)

	var packets [][]byte
	for len(r.stash) >= audio.FrameBytes {
		frame := r.stash[:audio.FrameBytes]
		r.stash = r.stash[audio.FrameBytes:]
		packet, err := r.enc.Encode(frame)
		if err != nil {
			slog.Debug("webrtc: re-encode track frame", "err", err)
			continue
		}
		packets = append(packets, packet)
	}
	return packets
}
