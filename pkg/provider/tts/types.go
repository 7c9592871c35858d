package tts

import "github.com/MrWong99/parlo/pkg/audio"

// Clip is one synthesised speech segment.
type Clip struct {
	// PCM is signed 16-bit little-endian audio.
	PCM []byte

	// Format describes the sample rate and channel count of PCM.
	Format audio.Format
}

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool {
	return len(c.PCM) == 0
}
