// Package mock provides an in-memory mock implementation of the
// [transport.Transport] interface for use in unit tests.
//
// The mock is safe for concurrent use. Tests feed inbound traffic with
// [Transport.PushControl] and [Transport.PushAudio], end the stream with
// [Transport.Close], and assert on the recorded outbound messages via
// [Transport.Controls] and [Transport.AudioPackets].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/transport"
	"github.com/MrWong99/parlo/pkg/audio"
)

// Transport is a mock implementation of [transport.Transport].
// Set the exported error fields before use; inspect recorded traffic after.
type Transport struct {
	mu      sync.Mutex
	inbound chan transport.Inbound
	closed  bool

	// SendControlError, when non-nil, is returned by every SendControl call.
	SendControlError error

	// SendAudioError, when non-nil, is returned by every SendAudio call.
	SendAudioError error

	controls   []protocol.Message
	packets    [][]byte
	closeCalls int
}

// NewTransport creates a mock transport with a buffered inbound stream.
func NewTransport() *Transport {
	return &Transport{inbound: make(chan transport.Inbound, 64)}
}

// Inbound implements [transport.Transport].
func (t *Transport) Inbound() <-chan transport.Inbound {
	return t.inbound
}

// SendControl implements [transport.Transport]. The message is recorded and
// can be inspected with [Transport.Controls].
func (t *Transport) SendControl(_ context.Context, msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.SendControlError != nil {
		return t.SendControlError
	}
	t.controls = append(t.controls, msg)
	return nil
}

// SendAudio implements [transport.Transport]. The packet is copied and can be
// inspected with [Transport.AudioPackets].
func (t *Transport) SendAudio(_ context.Context, packet []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.SendAudioError != nil {
		return t.SendAudioError
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	t.packets = append(t.packets, cp)
	return nil
}

// Close implements [transport.Transport]. The first call closes the Inbound
// channel; later calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	if !t.closed {
		t.closed = true
		close(t.inbound)
	}
	return nil
}

// PushControl delivers raw control JSON on the inbound stream.
func (t *Transport) PushControl(raw []byte) {
	t.inbound <- transport.Inbound{Kind: transport.KindControl, Control: raw}
}

// PushAudio delivers one audio chunk on the inbound stream.
func (t *Transport) PushAudio(chunk audio.Chunk) {
	t.inbound <- transport.Inbound{Kind: transport.KindAudio, Audio: chunk}
}

// Controls returns a snapshot of all control messages sent so far.
func (t *Transport) Controls() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Message, len(t.controls))
	copy(out, t.controls)
	return out
}

// AudioPackets returns a snapshot of all audio packets sent so far.
func (t *Transport) AudioPackets() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.packets))
	copy(out, t.packets)
	return out
}

// CloseCalls reports how many times Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// Closed reports whether the transport has been closed.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
