// Package protocol defines the JSON control messages exchanged with voice
// clients over the audio transport.
//
// Every message is a single JSON object carrying a "type" tag next to the
// message's own fields, for example:
//
//	{"type": "listen", "state": "start", "mode": "manual"}
//	{"type": "tts", "state": "sentence_start", "text": "Hello!", "session_id": "abc"}
//
// Clients send hello, listen, abort and iot; the server sends welcome, stt,
// llm, tts and error. Receivers call [Decode] and type-switch on the result;
// senders call [Marshal]. Binary transport frames (Opus audio) are not part
// of this package.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type tags.
const (
	TypeHello   = "hello"
	TypeListen  = "listen"
	TypeAbort   = "abort"
	TypeIoT     = "iot"
	TypeWelcome = "welcome"
	TypeSTT     = "stt"
	TypeLLM     = "llm"
	TypeTTS     = "tts"
	TypeError   = "error"
)

// Listen states.
const (
	// ListenStart marks the beginning of client speech (push-to-talk press).
	ListenStart = "start"

	// ListenStop marks the end of client speech (push-to-talk release). The
	// buffered utterance is dispatched to recognition immediately.
	ListenStop = "stop"

	// ListenDetect reports a wakeword the client recognised on-device. The
	// wakeword text travels in the message's Text field.
	ListenDetect = "detect"
)

// Listen modes.
const (
	// ModeAuto lets server-side voice activity detection decide when an
	// utterance ends. Explicit listen stop messages are ignored.
	ModeAuto = "auto"

	// ModeManual is push-to-talk: the client brackets speech with listen
	// start/stop and voice activity detection is bypassed.
	ModeManual = "manual"

	// ModeWakeword is auto mode entered via an on-device wakeword.
	ModeWakeword = "wakeword"
)

// TTS states. A reply is announced with TTSStart, each synthesised segment's
// audio frames are bracketed by TTSSentenceStart and TTSSentenceEnd, and
// TTSStop closes the reply (also after a barge-in).
const (
	TTSStart         = "start"
	TTSSentenceStart = "sentence_start"
	TTSSentenceEnd   = "sentence_end"
	TTSStop          = "stop"
)

// ErrUnknownType is wrapped by [Decode] when the "type" tag does not name a
// known message.
var ErrUnknownType = errors.New("unknown message type")

// Ensure all message types implement Message.
var (
	_ Message = (*Hello)(nil)
	_ Message = (*Listen)(nil)
	_ Message = (*Abort)(nil)
	_ Message = (*IoT)(nil)
	_ Message = (*Welcome)(nil)
	_ Message = (*STT)(nil)
	_ Message = (*LLM)(nil)
	_ Message = (*TTS)(nil)
	_ Message = (*Error)(nil)
)

// Message is a control message. The concrete types are the exported structs
// in this package.
type Message interface {
	messageType() string
}

// ─────────────────────────────────────────────────────────────────────────────
// Client → server
// ─────────────────────────────────────────────────────────────────────────────

// Hello greets the server after connecting. The server replies with
// [Welcome]. Clients may attach capability fields; the server ignores them.
type Hello struct{}

func (*Hello) messageType() string { return TypeHello }

// Listen controls when the server treats inbound audio as user speech.
type Listen struct {
	// State is one of ListenStart, ListenStop or ListenDetect.
	State string `json:"state"`

	// Mode, when present, switches the session's listen mode (ModeAuto,
	// ModeManual or ModeWakeword). It sticks until the next change.
	Mode string `json:"mode,omitempty"`

	// Text carries the recognised wakeword for ListenDetect.
	Text string `json:"text,omitempty"`
}

func (*Listen) messageType() string { return TypeListen }

// Abort is a barge-in request: stop the reply currently being spoken.
type Abort struct{}

func (*Abort) messageType() string { return TypeAbort }

// IoT reports device capability descriptors and state updates. Both payloads
// are opaque to the core and handed to plugins as raw JSON.
type IoT struct {
	Descriptors json.RawMessage `json:"descriptors,omitempty"`
	States      json.RawMessage `json:"states,omitempty"`
}

func (*IoT) messageType() string { return TypeIoT }

// ─────────────────────────────────────────────────────────────────────────────
// Server → client
// ─────────────────────────────────────────────────────────────────────────────

// Welcome acknowledges a [Hello].
type Welcome struct {
	// DeviceID echoes the device identifier the session is registered under.
	DeviceID string `json:"device-id"`
}

func (*Welcome) messageType() string { return TypeWelcome }

// STT notifies the client of the transcript recognised from its utterance.
type STT struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

func (*STT) messageType() string { return TypeSTT }

// LLM notifies the client of reply metadata, currently an emotion hint for
// the device's display.
type LLM struct {
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	SessionID string `json:"session_id"`
}

func (*LLM) messageType() string { return TypeLLM }

// TTS brackets the audio frames of a spoken reply. See the TTS state
// constants for the sequencing contract.
type TTS struct {
	// State is one of TTSStart, TTSSentenceStart, TTSSentenceEnd or TTSStop.
	State     string `json:"state"`
	SessionID string `json:"session_id"`

	// Text is the spoken segment, set on TTSSentenceStart and TTSSentenceEnd.
	Text string `json:"text,omitempty"`
}

func (*TTS) messageType() string { return TypeTTS }

// Error reports a protocol-level problem without closing the connection.
type Error struct {
	Message string `json:"message"`
}

func (*Error) messageType() string { return TypeError }

// ─────────────────────────────────────────────────────────────────────────────
// Codec
// ─────────────────────────────────────────────────────────────────────────────

// Marshal encodes msg as a JSON object with its "type" tag inlined next to
// the message's fields.
func Marshal(msg Message) ([]byte, error) {
	type tagged struct {
		Type string `json:"type"`
	}
	tag := tagged{Type: msg.messageType()}

	var v any
	switch m := msg.(type) {
	case *Hello:
		v = struct {
			tagged
		}{tag}
	case *Listen:
		v = struct {
			tagged
			*Listen
		}{tag, m}
	case *Abort:
		v = struct {
			tagged
		}{tag}
	case *IoT:
		v = struct {
			tagged
			*IoT
		}{tag, m}
	case *Welcome:
		v = struct {
			tagged
			*Welcome
		}{tag, m}
	case *STT:
		v = struct {
			tagged
			*STT
		}{tag, m}
	case *LLM:
		v = struct {
			tagged
			*LLM
		}{tag, m}
	case *TTS:
		v = struct {
			tagged
			*TTS
		}{tag, m}
	case *Error:
		v = struct {
			tagged
			*Error
		}{tag, m}
	default:
		return nil, fmt.Errorf("protocol: marshal: unsupported message %T", msg)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msg.messageType(), err)
	}
	return data, nil
}

// Decode parses a control message. Unknown fields are silently ignored; an
// unrecognised "type" tag yields an error wrapping [ErrUnknownType] so the
// caller can report it without dropping the connection.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}

	var msg Message
	switch probe.Type {
	case TypeHello:
		msg = new(Hello)
	case TypeListen:
		msg = new(Listen)
	case TypeAbort:
		msg = new(Abort)
	case TypeIoT:
		msg = new(IoT)
	case TypeWelcome:
		msg = new(Welcome)
	case TypeSTT:
		msg = new(STT)
	case TypeLLM:
		msg = new(LLM)
	case TypeTTS:
		msg = new(TTS)
	case TypeError:
		msg = new(Error)
	default:
		return nil, fmt.Errorf("protocol: %w %q", ErrUnknownType, probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: parse %s message: %w", probe.Type, err)
	}
	return msg, nil
}
