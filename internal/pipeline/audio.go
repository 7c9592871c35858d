package pipeline

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/audio"
)

// handleAudio ingests one audio packet: decode to pipeline PCM, run the
// speech gate, and buffer according to the utterance state.
func (st *stream) handleAudio(chunk audio.Chunk) {
	sess := st.sess

	if sess.Mode() == session.ModeWakeword && !st.woken {
		return
	}
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	pcm, ok := st.toPCM(chunk)
	if !ok || len(pcm) == 0 {
		return
	}

	// Manual mode brackets utterances itself. Detection also pauses while
	// a recognition holds the stream, though audio keeps buffering.
	if sess.Mode() != session.ModeManual && !sess.ASRInFlight() {
		events, err := st.gate.feed(pcm, chunk.Timestamp)
		if err != nil {
			slog.Debug("pipeline: speech gate", "device", sess.DeviceID, "err", err)
		}
		for _, ev := range events {
			st.applyGateEvent(ev)
		}
	}

	st.buffer(pcm, chunk.Timestamp)
}

// applyGateEvent advances the utterance state machine on a speech boundary.
func (st *stream) applyGateEvent(ev gateEvent) {
	sess := st.sess
	slog.Debug("pipeline: speech boundary", "event", ev, "device", sess.DeviceID)
	switch ev {
	case eventSpeechStart:
		sess.SetHaveVoice(true)
		if sess.State() == session.StateIdle {
			sess.Transition(session.StateListening)
		}
	case eventSpeechEnd:
		if !sess.HaveVoice() || sess.State() != session.StateListening {
			return
		}
		sess.SetVoiceStop(true)
		st.dispatchUtterance()
	}
}

// buffer stores pipeline PCM for the utterance in progress. Before speech is
// detected only a short pre-roll is kept; once an utterance is open
// everything accumulates up to the span cap.
func (st *stream) buffer(pcm []byte, ts time.Time) {
	sess := st.sess
	chunk := audio.Chunk{
		Data:       pcm,
		Encoding:   audio.EncodingPCM16,
		SampleRate: audio.SampleRate,
		Timestamp:  ts,
	}

	if !sess.HaveVoice() {
		sess.Utterance.Append(chunk)
		sess.Utterance.TrimTo(preRollChunks)
		return
	}

	if over := sess.Utterance.Append(chunk); over {
		if sess.State() == session.StateListening && !sess.ASRInFlight() {
			slog.Warn("pipeline: utterance span cap hit, dispatching",
				"device", sess.DeviceID, "span", sess.Utterance.Span())
			st.dispatchUtterance()
			return
		}
		slog.Debug("pipeline: utterance span cap hit, discarding", "device", sess.DeviceID)
		sess.Utterance.Clear()
	}
}

// toPCM converts an inbound chunk to pipeline PCM. Packets that fail to
// decode or convert are dropped without failing the session.
func (st *stream) toPCM(chunk audio.Chunk) ([]byte, bool) {
	switch chunk.Encoding {
	case audio.EncodingOpus, audio.EncodingOpusReencoded:
		pcm, err := st.dec.Decode(chunk.Data)
		if err != nil {
			slog.Debug("pipeline: dropping undecodable packet", "device", st.sess.DeviceID, "err", err)
			return nil, false
		}
		return pcm, true
	case audio.EncodingPCM16:
		rate := chunk.SampleRate
		if rate == 0 {
			rate = audio.SampleRate
		}
		pcm, err := st.conv.Convert(chunk.Data, audio.Format{SampleRate: rate, Channels: audio.Channels})
		if err != nil {
			slog.Debug("pipeline: dropping unconvertible audio", "device", st.sess.DeviceID, "err", err)
			return nil, false
		}
		return pcm, true
	default:
		slog.Debug("pipeline: dropping audio with unknown encoding",
			"encoding", chunk.Encoding, "device", st.sess.DeviceID)
		return nil, false
	}
}
