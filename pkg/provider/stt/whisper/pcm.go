package whisper

import (
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
)

// floatSamples converts signed 16-bit little-endian PCM into the float32
// vector whisper.cpp consumes, scaled to [-1, 1). A trailing odd byte holds
// no complete sample and is dropped.
func floatSamples(pcm []byte) []float32 {
	out := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		out = append(out, float32(s)/32768)
	}
	return out
}

// pcmDuration returns the play-out length of pipeline PCM.
func pcmDuration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / audio.SampleRate
}
