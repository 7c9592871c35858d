// Package ws is the WebSocket implementation of [transport.Transport].
//
// Binary frames carry Opus audio packets, text frames carry JSON control
// messages. One WebSocket connection is one session; the [Server] accepts
// connections, registers a session per client and runs the voice pipeline on
// it until the connection ends.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/transport"
	"github.com/MrWong99/parlo/pkg/audio"
)

// maxMessageSize bounds a single inbound frame. Control messages carry whole
// IoT descriptor catalogues, which can exceed the library's 32 KiB default.
const maxMessageSize = 1 << 20

// inboundBuffer is the capacity of the inbound channel. A full channel blocks
// the read loop, which pushes back on the client through TCP.
const inboundBuffer = 64

// Conn adapts one accepted WebSocket connection to [transport.Transport].
type Conn struct {
	ws      *websocket.Conn
	inbound chan transport.Inbound

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

var _ transport.Transport = (*Conn)(nil)

// NewConn takes ownership of an accepted WebSocket connection and starts
// reading from it. The connection is released by [Conn.Close] or by the peer
// disconnecting; either way the inbound channel is closed.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		inbound: make(chan transport.Inbound, inboundBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.readLoop()
	return c
}

// Inbound implements [transport.Transport].
func (c *Conn) Inbound() <-chan transport.Inbound {
	return c.inbound
}

// SendControl marshals msg and writes it as a text frame.
func (c *Conn) SendControl(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal control: %w", err)
	}
	return c.write(ctx, websocket.MessageText, data, "control")
}

// SendAudio writes one Opus packet as a binary frame.
func (c *Conn) SendAudio(ctx context.Context, packet []byte) error {
	return c.write(ctx, websocket.MessageBinary, packet, "audio")
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, data []byte, plane string) error {
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		if c.ctx.Err() != nil {
			return transport.ErrClosed
		}
		return fmt.Errorf("ws: write %s: %w", plane, err)
	}
	return nil
}

// Close sends a normal-closure frame and tears the connection down. It is
// idempotent and always returns nil; a close error on an already dead peer
// carries no information.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop owns the inbound channel: it closes it when it exits, whether the
// close was local or peer-initiated.
func (c *Conn) readLoop() {
	defer func() {
		c.cancel()
		close(c.inbound)
	}()

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Debug("ws: read", "err", err)
			}
			return
		}

		var in transport.Inbound
		switch typ {
		case websocket.MessageBinary:
			in = transport.Inbound{
				Kind: transport.KindAudio,
				Audio: audio.Chunk{
					Data:       data,
					Encoding:   audio.EncodingOpus,
					SampleRate: audio.SampleRate,
					Timestamp:  time.Now(),
				},
			}
		case websocket.MessageText:
			in = transport.Inbound{Kind: transport.KindControl, Control: data}
		default:
			continue
		}

		select {
		case c.inbound <- in:
		case <-c.ctx.Done():
			return
		}
	}
}
