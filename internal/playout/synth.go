package playout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

// pacedSegment is one synthesized sentence ready for play-out.
type pacedSegment struct {
	index  int
	text   string
	frames [][]byte
}

// synthesize renders incoming segments and queues them for the pacer. It
// closes queue when the segment stream ends or ctx is cancelled. Blank
// segments are skipped without consuming an index; a segment whose synthesis
// exhausts its attempts is dropped and replaced, once per reply, by a spoken
// apology in its slot.
func (p *Player) synthesize(ctx context.Context, sess *session.Session, segments <-chan string, queue chan<- pacedSegment) {
	defer close(queue)

	index := 0
	apologised := false
	for {
		var text string
		select {
		case <-ctx.Done():
			return
		case t, ok := <-segments:
			if !ok {
				return
			}
			text = t
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		index++
		sess.NoteTTSSegment(index)

		frames, err := p.render(ctx, sess, text, synthRetries)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("playout: dropping segment after failed synthesis",
				"device", sess.DeviceID, "segment", index, "error", err)
			if apologised {
				continue
			}
			apologised = true
			text = apologyText
			frames, err = p.render(ctx, sess, text, 1)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("playout: apology synthesis failed", "device", sess.DeviceID, "error", err)
				continue
			}
		}
		if len(frames) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case queue <- pacedSegment{index: index, text: text, frames: frames}:
		}
	}
}

// render synthesizes one segment and encodes it into transport frames. An
// empty clip yields no frames and no error. Provider failures are retried up
// to attempts times, back to back; encoding failures are final.
func (p *Player) render(ctx context.Context, sess *session.Session, text string, attempts int) ([][]byte, error) {
	voice := types.VoiceProfile{ID: sess.VoiceID()}

	var clip tts.Clip
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		c, err := p.tts.Synthesize(ctx, text, voice)
		if err == nil {
			p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
			clip = c
			break
		}
		lastErr = err
		p.metrics.RecordProviderError(ctx, p.ttsName, "tts")
		slog.Warn("playout: synthesis attempt failed",
			"device", sess.DeviceID, "attempt", attempt, "error", err)
		if attempt >= attempts {
			return nil, fmt.Errorf("playout: synthesize segment: %w", lastErr)
		}
	}
	if clip.Empty() {
		return nil, nil
	}

	pcm := clip.PCM
	if clip.Format != audio.PipelineFormat {
		var conv audio.Converter
		converted, err := conv.Convert(pcm, clip.Format)
		if err != nil {
			return nil, fmt.Errorf("playout: convert clip to pipeline format: %w", err)
		}
		pcm = converted
	}

	frames, _, err := audio.EncodePCM(pcm)
	if err != nil {
		return nil, fmt.Errorf("playout: encode segment: %w", err)
	}
	return frames, nil
}
