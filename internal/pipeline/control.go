package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/session"
)

// handleControl parses one control-plane message and applies it. Malformed
// messages are answered with an error message, not dropped, so misbehaving
// clients can see what went wrong.
func (st *stream) handleControl(raw []byte) {
	sess := st.sess
	msg, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("pipeline: undecodable control message", "device", sess.DeviceID, "err", err)
		st.send(&protocol.Error{Message: "unrecognised control message"})
		return
	}

	switch m := msg.(type) {
	case *protocol.Hello:
		st.send(&protocol.Welcome{DeviceID: sess.DeviceID})
	case *protocol.Listen:
		st.handleListen(m)
	case *protocol.Abort:
		slog.Debug("pipeline: abort requested", "device", sess.DeviceID)
		sess.RequestAbort()
	case *protocol.IoT:
		st.handleIoT(m)
	default:
		slog.Debug("pipeline: ignoring unexpected message",
			"type", fmt.Sprintf("%T", msg), "device", sess.DeviceID)
	}
}

// handleListen applies a listen state change. A mode carried on the message
// takes effect first, so the state acts under the mode it arrived with.
func (st *stream) handleListen(m *protocol.Listen) {
	sess := st.sess
	if m.Mode != "" {
		mode, ok := session.ParseListenMode(m.Mode)
		switch {
		case !ok:
			slog.Warn("pipeline: unknown listen mode", "mode", m.Mode, "device", sess.DeviceID)
		case mode != sess.Mode():
			slog.Info("pipeline: listen mode changed", "mode", mode, "device", sess.DeviceID)
			sess.SetMode(mode)
			st.gate.reset()
			if mode == session.ModeWakeword {
				st.woken = false
			}
		}
	}

	switch m.State {
	case protocol.ListenStart:
		sess.SetHaveVoice(true)
		sess.SetVoiceStop(false)
		if sess.State() == session.StateIdle {
			sess.Transition(session.StateListening)
		}
	case protocol.ListenStop:
		if sess.Mode() != session.ModeManual {
			// utterance ends are derived from audio in the other modes
			slog.Debug("pipeline: ignoring listen stop outside manual mode", "device", sess.DeviceID)
			return
		}
		sess.SetHaveVoice(true)
		sess.SetVoiceStop(true)
		if sess.State() != session.StateListening {
			return
		}
		if sess.Utterance.Len() == 0 {
			sess.Reset()
			return
		}
		st.dispatchUtterance()
	case protocol.ListenDetect:
		st.handleDetect(m.Text)
	default:
		slog.Warn("pipeline: unknown listen state", "state", m.State, "device", sess.DeviceID)
	}
}

// handleDetect handles an on-device wakeword report. Audio buffered before
// the report is the wakeword itself, not the query, so it is discarded and
// the gate starts clean. A report matching a configured wakeword either gets
// a bare acknowledgement or opens a greeting turn; anything else is treated
// as a spoken query the device transcribed on its own.
func (st *stream) handleDetect(text string) {
	sess := st.sess
	sess.Utterance.Clear()
	st.gate.reset()
	st.woken = true

	phrase := strings.TrimSpace(text)
	if phrase == "" {
		slog.Debug("pipeline: empty wakeword report", "device", sess.DeviceID)
		return
	}

	if st.p.wake != nil {
		if matched, score, ok := st.p.wake.Match(phrase); ok {
			slog.Info("pipeline: wakeword matched",
				"phrase", phrase, "wakeword", matched, "score", score, "device", sess.DeviceID)
			if !st.p.greeting {
				st.send(&protocol.STT{Text: phrase, SessionID: sess.ID})
				st.send(&protocol.TTS{State: protocol.TTSStop, SessionID: sess.ID})
				return
			}
		}
	}

	st.startTurn(phrase)
}

// startTurn opens a reply for a transcript that arrived on the control plane
// rather than through recognition.
func (st *stream) startTurn(transcript string) {
	sess := st.sess
	if sess.ASRInFlight() {
		slog.Debug("pipeline: recognition in flight, dropping control-plane turn", "device", sess.DeviceID)
		return
	}
	switch sess.State() {
	case session.StateIdle:
		sess.Transition(session.StateListening)
	case session.StateListening:
	default:
		slog.Debug("pipeline: dropping control-plane turn",
			"state", sess.State(), "device", sess.DeviceID)
		return
	}
	if !sess.Transition(session.StateThinking) {
		return
	}
	go st.reply(transcript)
}

// handleIoT forwards device tool descriptors and state reports to the intent
// registry.
func (st *stream) handleIoT(m *protocol.IoT) {
	if st.p.intents == nil {
		return
	}
	sess := st.sess
	if err := st.p.intents.DispatchIoT(sess.Context(), sess, m.Descriptors, m.States); err != nil {
		slog.Warn("pipeline: iot dispatch failed", "device", sess.DeviceID, "err", err)
	}
}

// send writes one control message. Delivery failures are logged rather than
// propagated: a dead transport also closes the inbound stream, which ends
// the session through the serve loop.
func (st *stream) send(msg protocol.Message) {
	if err := st.sess.Transport.SendControl(st.sess.Context(), msg); err != nil {
		slog.Warn("pipeline: control send failed", "device", st.sess.DeviceID, "err", err)
	}
}
