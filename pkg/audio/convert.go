package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter normalizes arbitrary s16le PCM to the pipeline format. It keeps
// resampler state across calls so streamed input converts without phase
// discontinuities, which means one Converter serves exactly one stream.
//
// The zero value is ready to use.
type Converter struct {
	rs     resampling.Resampler
	rsRate int

	warnedOddLen sync.Once
}

// Convert converts pcm in the given source format to 16 kHz mono. Input with
// a truncated trailing sample is dropped rather than decoded misaligned; the
// drop is logged once per Converter so a bad client cannot flood the logs.
func (c *Converter) Convert(pcm []byte, src Format) ([]byte, error) {
	if len(pcm)%2 != 0 {
		c.warnedOddLen.Do(func() {
			slog.Warn("dropping PCM with truncated sample",
				"len", len(pcm), "format", src)
		})
		return nil, nil
	}
	if len(pcm) == 0 || src == PipelineFormat {
		return pcm, nil
	}

	// Downmix before resampling so the resampler only ever sees mono.
	switch src.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("audio: unsupported channel count %d", src.Channels)
	}

	if src.SampleRate == SampleRate {
		return pcm, nil
	}

	if c.rs == nil || c.rsRate != src.SampleRate {
		cfg := &resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(SampleRate),
			Channels:   Channels,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		}
		rs, err := resampling.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("audio: create resampler: %w", err)
		}
		c.rs = rs
		c.rsRate = src.SampleRate
	}

	in := make([]float64, len(pcm)/2)
	for i := range in {
		in[i] = float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
	}
	out, err := c.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d Hz to %d Hz: %w", src.SampleRate, SampleRate, err)
	}

	res := make([]byte, len(out)*2)
	for i, s := range out {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		res[i*2] = byte(v)
		res[i*2+1] = byte(v >> 8)
	}
	return res, nil
}

// StereoToMono downmixes interleaved stereo s16le PCM by averaging channels.
func StereoToMono(pcm []byte) []byte {
	mono := make([]byte, len(pcm)/2)
	for i := 0; i < len(pcm)/4; i++ {
		l := int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
		r := int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		mono[i*2] = byte(m)
		mono[i*2+1] = byte(m >> 8)
	}
	return mono
}
