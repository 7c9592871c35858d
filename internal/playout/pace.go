package playout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/audio"
)

// pace drains the segment queue and plays each segment at frame cadence.
// The tts start message and the Speaking transition happen when the first
// segment arrives, not when synthesis starts, so a reply that yields no
// audio never announces itself.
func (p *Player) pace(ctx context.Context, cancelSynth context.CancelFunc, sess *session.Session, queue <-chan pacedSegment) (Outcome, error) {
	// Abort must be observed even while waiting on a slow synthesis, so the
	// queue receive shares a select with a frame-interval tick.
	abortPoll := time.NewTicker(audio.FrameDuration)
	defer abortPoll.Stop()

	started := false
	for {
		if sess.AbortRequested() {
			return p.bargeIn(ctx, cancelSynth, sess, queue)
		}

		select {
		case <-ctx.Done():
			return OutcomeCompleted, ctx.Err()
		case <-abortPoll.C:
		case seg, ok := <-queue:
			if !ok {
				return p.finish(ctx, sess, started)
			}
			if !started {
				if err := p.sendTTS(ctx, sess, protocol.TTSStart, ""); err != nil {
					return OutcomeCompleted, err
				}
				sess.Transition(session.StateSpeaking)
				started = true
			}
			aborted, err := p.playSegment(ctx, sess, seg)
			if err != nil {
				return OutcomeCompleted, err
			}
			if aborted {
				return p.bargeIn(ctx, cancelSynth, sess, queue)
			}
		}
	}
}

// playSegment brackets one segment with sentence_start and sentence_end and
// paces its frames out. aborted reports that the client interrupted the
// segment mid-flight.
func (p *Player) playSegment(ctx context.Context, sess *session.Session, seg pacedSegment) (aborted bool, err error) {
	if err := p.sendTTS(ctx, sess, protocol.TTSSentenceStart, seg.text); err != nil {
		return false, err
	}

	sent, aborted, err := p.paceFrames(ctx, sess, seg.frames)
	if sent > 0 {
		p.metrics.FramesSent.Add(ctx, int64(sent),
			metric.WithAttributes(observe.Attr("transport", p.transport)))
	}
	if err != nil || aborted {
		return aborted, err
	}

	if err := p.sendTTS(ctx, sess, protocol.TTSSentenceEnd, seg.text); err != nil {
		return false, err
	}
	return false, nil
}

// paceFrames sends frames on the segment clock: the first primeFrames go out
// back to back, every later frame i waits until t0+i*FrameDuration. The
// abort flag is checked between frames, bounding how long a barge-in can go
// unnoticed by one frame interval.
func (p *Player) paceFrames(ctx context.Context, sess *session.Session, frames [][]byte) (sent int, aborted bool, err error) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	t0 := time.Now()
	for i, frame := range frames {
		if sess.AbortRequested() {
			return sent, true, nil
		}
		if i >= primeFrames {
			due := t0.Add(time.Duration(i) * audio.FrameDuration)
			wait := time.Until(due)
			if wait > maxFrameSleep {
				wait = maxFrameSleep
			}
			if wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return sent, false, ctx.Err()
				case <-timer.C:
				}
			}
			drift := time.Since(due)
			if drift < 0 {
				drift = 0
			}
			p.metrics.PaceDrift.Record(ctx, drift.Seconds())
		}
		if err := sess.Transport.SendAudio(ctx, frame); err != nil {
			return sent, false, fmt.Errorf("playout: send audio frame: %w", err)
		}
		sent++
	}
	return sent, false, nil
}

// bargeIn tears the reply down after a client abort: synthesis is cancelled,
// queued segments are discarded, the abort is acknowledged with a tts stop
// and the session returns to idle.
func (p *Player) bargeIn(ctx context.Context, cancelSynth context.CancelFunc, sess *session.Session, queue <-chan pacedSegment) (Outcome, error) {
	cancelSynth()
	audio.Drain(queue)

	p.metrics.BargeIns.Add(ctx, 1)
	slog.Info("playout: reply aborted by client", "device", sess.DeviceID, "session", sess.ID)

	err := p.sendTTS(ctx, sess, protocol.TTSStop, "")
	sess.Reset()
	return OutcomeBargedIn, err
}

// finish closes out a reply whose segments all played. A reply that never
// produced audio sends no tts messages at all; otherwise the stop message
// goes out, followed by the stop notification sound when one is configured.
func (p *Player) finish(ctx context.Context, sess *session.Session, started bool) (Outcome, error) {
	if !started {
		sess.Reset()
		return OutcomeCompleted, nil
	}
	if err := p.sendTTS(ctx, sess, protocol.TTSStop, ""); err != nil {
		sess.Reset()
		return OutcomeCompleted, err
	}
	if len(p.stopNotify) > 0 {
		sent, _, err := p.paceFrames(ctx, sess, p.stopNotify)
		if sent > 0 {
			p.metrics.FramesSent.Add(ctx, int64(sent),
				metric.WithAttributes(observe.Attr("transport", p.transport)))
		}
		if err != nil {
			sess.Reset()
			return OutcomeCompleted, err
		}
	}
	sess.Reset()
	return OutcomeCompleted, nil
}

func (p *Player) sendTTS(ctx context.Context, sess *session.Session, state, text string) error {
	msg := &protocol.TTS{State: state, SessionID: sess.ID, Text: text}
	if err := sess.Transport.SendControl(ctx, msg); err != nil {
		return fmt.Errorf("playout: send tts %s: %w", state, err)
	}
	return nil
}
