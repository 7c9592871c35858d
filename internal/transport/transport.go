// Package transport defines the uniform client connection interface the
// voice pipeline runs on.
//
// A [Transport] multiplexes two planes over one client connection: a control
// plane of JSON messages and an audio plane of Opus packets. The WebSocket
// implementation maps text frames to control and binary frames to audio; the
// WebRTC implementation maps the SCTP data channel to control and the media
// track (or framed data-channel messages) to audio. The pipeline never learns
// which one it is talking to.
//
// Implementations must be safe for concurrent use: the pipeline reads Inbound
// from one goroutine while the pacer calls SendAudio and control replies go
// out via SendControl from others.
package transport

import (
	"context"
	"errors"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/pkg/audio"
)

// ErrClosed is returned by Send methods after the transport has closed. It is
// terminal: the session owning the transport must shut down.
var ErrClosed = errors.New("transport closed")

// Kind classifies one unit of inbound client traffic.
type Kind int

const (
	// KindControl is a JSON control message.
	KindControl Kind = iota

	// KindAudio is an Opus audio packet.
	KindAudio
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Inbound is one unit of client traffic. Units are delivered in arrival
// order across both planes, so a push-to-talk release is observed after the
// audio that preceded it.
type Inbound struct {
	// Kind tags which plane the unit arrived on.
	Kind Kind

	// Control is the raw JSON of a control message. Set for KindControl;
	// parsing is left to the consumer so malformed messages can be answered
	// instead of dropped.
	Control []byte

	// Audio is the tagged Opus packet. Set for KindAudio.
	Audio audio.Chunk
}

// Transport is one client connection, either WebSocket or WebRTC.
//
// A Transport is obtained from a transport server when a client connects and
// remains valid until [Transport.Close] is called or the peer disconnects.
// The Inbound channel is closed when the transport terminates, whichever side
// initiated it.
type Transport interface {
	// Inbound returns the stream of client traffic. The same channel is
	// returned on every call. It preserves arrival order across control and
	// audio and is closed when the transport closes.
	Inbound() <-chan Inbound

	// SendControl marshals msg and writes it on the control plane. Control
	// messages are serialised against each other: concurrent calls never
	// interleave bytes on the wire. Returns [ErrClosed] after Close.
	SendControl(ctx context.Context, msg protocol.Message) error

	// SendAudio writes one Opus packet on the audio plane. Returns
	// [ErrClosed] after Close.
	SendAudio(ctx context.Context, packet []byte) error

	// Close tears the connection down and closes the Inbound channel. It is
	// safe to call Close more than once; subsequent calls are no-ops and
	// return nil.
	Close() error
}
