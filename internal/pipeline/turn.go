package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parlo/internal/playout"
	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/audio"
)

// errFarewell closes a session whose reply asked for the conversation to end.
var errFarewell = errors.New("session ended by assistant")

// dispatchUtterance takes the buffered utterance and hands it to a turn
// goroutine. At most one recognition per session is in flight; a dispatch
// that loses that race leaves the buffer alone.
func (st *stream) dispatchUtterance() {
	sess := st.sess
	if !sess.TryBeginASR() {
		slog.Debug("pipeline: recognition already in flight", "device", sess.DeviceID)
		return
	}
	chunks := sess.Utterance.TakeAll()
	st.gate.reset()
	if len(chunks) == 0 {
		sess.EndASR()
		sess.Reset()
		return
	}
	go st.turn(chunks)
}

// turn runs one utterance end to end, recognition through spoken reply.
func (st *stream) turn(chunks []audio.Chunk) {
	sess := st.sess
	transcript := st.recognize(chunks)
	if transcript == "" {
		slog.Info("pipeline: empty transcript, dropping utterance", "device", sess.DeviceID)
		sess.Reset()
		return
	}
	if !sess.Transition(session.StateThinking) {
		return
	}
	st.reply(transcript)
}

// recognize transcribes one utterance. Failures and timeouts map to an empty
// transcript, which the caller treats as silence.
func (st *stream) recognize(chunks []audio.Chunk) string {
	sess, p := st.sess, st.p
	defer sess.EndASR()

	var pcm []byte
	for _, c := range chunks {
		pcm = append(pcm, c.Data...)
	}
	if len(pcm) == 0 {
		return ""
	}

	ctx, cancel := context.WithTimeout(sess.Context(), p.asrTimeout)
	defer cancel()
	if err := p.asrSem.Acquire(ctx, 1); err != nil {
		slog.Warn("pipeline: no recognition slot", "device", sess.DeviceID, "err", err)
		return ""
	}
	defer p.asrSem.Release(1)

	start := time.Now()
	tr, err := p.asr.Recognize(ctx, pcm)
	p.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.asrName, "asr", "error")
		p.metrics.RecordProviderError(ctx, p.asrName, "asr")
		slog.Error("pipeline: recognition failed", "device", sess.DeviceID, "err", err)
		return ""
	}
	p.metrics.RecordProviderRequest(ctx, p.asrName, "asr", "ok")

	text := strings.TrimSpace(tr.Text)
	slog.Info("pipeline: utterance recognised",
		"device", sess.DeviceID, "chars", len(text), "audio", tr.AudioDuration)
	return text
}

// reply streams one model turn and paces it to the client. It owns the
// reply-scoped context: cancelling it after play-out returns releases a
// model stream the client no longer wants.
func (st *stream) reply(transcript string) {
	sess, p := st.sess, st.p
	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()

	st.send(&protocol.STT{Text: transcript, SessionID: sess.ID})
	p.metrics.RecordUtterance(ctx, string(sess.Mode()))

	turn, err := st.dialog.Reply(ctx, sess, transcript)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", "error")
		p.metrics.RecordProviderError(ctx, p.llmName, "llm")
		slog.Error("pipeline: reply failed to start", "device", sess.DeviceID, "err", err)
		st.apologize()
		return
	}

	outcome, perr := p.player.Play(ctx, sess, turn.Segments())
	cancel()
	st.dialog.Wait()

	if terr := turn.Err(); terr != nil {
		p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", "error")
		p.metrics.RecordProviderError(ctx, p.llmName, "llm")
		slog.Error("pipeline: reply stream failed", "device", sess.DeviceID, "err", terr)
		if perr == nil && outcome == playout.OutcomeCompleted && turn.Text() == "" {
			st.apologize()
			return
		}
	} else {
		p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", "ok")
	}

	if perr != nil {
		slog.Error("pipeline: play-out failed", "device", sess.DeviceID, "err", perr)
		if !errors.Is(perr, context.Canceled) {
			sess.Close(fmt.Errorf("pipeline: play-out: %w", perr))
		}
		return
	}
	if outcome != playout.OutcomeCompleted {
		return
	}

	st.send(&protocol.LLM{Text: turn.Text(), Emotion: turn.Emotion(), SessionID: sess.ID})
	if sess.CloseAfterReply() {
		slog.Info("pipeline: reply ended the session", "device", sess.DeviceID)
		sess.Close(errFarewell)
	}
}

// apologize speaks a canned line when the dialogue engine produced nothing.
// It runs through the normal play-out path so pacing and barge-in behave as
// usual. A completed play-out leaves the machine Idle, and the apology needs
// Thinking to start from.
func (st *stream) apologize() {
	sess := st.sess
	if sess.State() == session.StateIdle {
		sess.Transition(session.StateListening)
		sess.Transition(session.StateThinking)
	}

	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()
	segments := make(chan string, 1)
	segments <- llmApology
	close(segments)
	if _, err := st.p.player.Play(ctx, sess, segments); err != nil {
		slog.Warn("pipeline: apology play-out failed", "device", sess.DeviceID, "err", err)
	}
}
