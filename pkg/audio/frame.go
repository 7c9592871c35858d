package audio

import (
	"fmt"
	"os"
	"time"
)

// FramePCM slices pipeline PCM into 20 ms frames. The trailing partial frame,
// if any, is zero-padded to full length so every frame Opus-encodes cleanly.
func FramePCM(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	n := (len(pcm) + FrameBytes - 1) / FrameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(pcm); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		last := make([]byte, FrameBytes)
		copy(last, pcm[off:])
		frames = append(frames, last)
	}
	return frames
}

// EncodePCM frames pipeline PCM and Opus-encodes every frame. It returns the
// packets and the play-out duration they cover. The duration counts whole
// frames, padding included, because that is what the pacer will schedule.
func EncodePCM(pcm []byte) ([][]byte, time.Duration, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, 0, err
	}
	frames := FramePCM(pcm)
	packets := make([][]byte, 0, len(frames))
	for _, f := range frames {
		p, err := enc.Encode(f)
		if err != nil {
			return nil, 0, err
		}
		packets = append(packets, p)
	}
	return packets, time.Duration(len(packets)) * FrameDuration, nil
}

// EncodeWAVFile reads a WAV file, converts it to the pipeline format and
// Opus-encodes it. Used for canned audio such as the stop notification tone.
func EncodeWAVFile(path string) ([][]byte, time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read wav file: %w", err)
	}
	pcm, format, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: %s: %w", path, err)
	}
	if format != PipelineFormat {
		var conv Converter
		pcm, err = conv.Convert(pcm, format)
		if err != nil {
			return nil, 0, fmt.Errorf("audio: %s: %w", path, err)
		}
	}
	return EncodePCM(pcm)
}
