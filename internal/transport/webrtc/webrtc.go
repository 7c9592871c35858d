// Package webrtc is the WebRTC implementation of [transport.Transport],
// together with the signalling server that negotiates peer connections.
//
// Inbound audio arrives on the peer's audio track as Opus RTP and passes
// through packet for packet; tracks that negotiated raw PCM are converted
// and re-encoded so everything downstream still sees Opus. Control JSON
// travels over an SCTP data channel opened by the client. The outbound audio
// path is fixed at negotiation: offers with an audio media section get a
// server-side Opus track, data-channel-only clients get binary channel
// messages instead.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v3"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/transport"
	"github.com/MrWong99/parlo/pkg/audio"
)

// inboundBuffer is the capacity of the producer-side queue. A full queue
// blocks pion's read callbacks, which pushes back on the peer through SCTP
// and RTP flow control.
const inboundBuffer = 64

// rtpTicksPerFrame advances the outbound RTP timestamp per 20 ms packet. The
// RTP clock for Opus is 48 kHz regardless of the encoded sample rate.
const rtpTicksPerFrame = 960

// opusPayloadType is the conventional dynamic payload type browsers assign
// to Opus. The track binding rewrites it to whatever was negotiated.
const opusPayloadType = 111

// Conn adapts one negotiated peer connection to [transport.Transport].
// Construct with [Negotiate].
type Conn struct {
	pc *pion.PeerConnection

	// raw collects frames from the track readers and data-channel
	// callbacks; pump forwards them to inbound and is the only closer of
	// inbound, so producers never race a close.
	raw     chan transport.Inbound
	inbound chan transport.Inbound

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	// hasControl records whether the offer negotiated a data channel.
	// Without one there is no control plane and control sends are dropped.
	hasControl bool
	dcReady    chan struct{}
	dcMu       sync.Mutex
	dc         *pion.DataChannel

	// track is the outbound audio track, nil when the client negotiated
	// data-channel audio instead.
	track *pion.TrackLocalStaticRTP
	rtpMu sync.Mutex
	seq   uint16
	ts    uint32
	ssrc  uint32
}

var _ transport.Transport = (*Conn)(nil)

// Negotiate builds a peer connection from the client's offer and returns the
// transport plus the answer SDP to relay back. The answer carries the full
// ICE candidate set (gathering completes before it is returned) and the
// session-id attribute that ties the media session to its signalling
// connection.
func Negotiate(ice []pion.ICEServer, offerSDP, sessionID string) (*Conn, string, error) {
	profile, err := parseOffer(offerSDP)
	if err != nil {
		return nil, "", err
	}
	if !profile.audio && !profile.control {
		return nil, "", errors.New("webrtc: offer has no audio or data media section")
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: ice})
	if err != nil {
		return nil, "", fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		pc:         pc,
		raw:        make(chan transport.Inbound, inboundBuffer),
		inbound:    make(chan transport.Inbound),
		ctx:        ctx,
		cancel:     cancel,
		hasControl: profile.control,
		dcReady:    make(chan struct{}),
		ssrc:       rand.Uint32(),
	}

	if profile.audio {
		track, err := pion.NewTrackLocalStaticRTP(
			pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus},
			"audio", "parlo-reply",
		)
		if err != nil {
			cancel()
			_ = pc.Close()
			return nil, "", fmt.Errorf("webrtc: create outbound track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			cancel()
			_ = pc.Close()
			return nil, "", fmt.Errorf("webrtc: add outbound track: %w", err)
		}
		c.track = track
		go drainRTCP(sender)
	}

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if track.Kind() != pion.RTPCodecTypeAudio {
			slog.Debug("webrtc: ignoring non-audio track", "kind", track.Kind().String())
			return
		}
		go c.readTrack(track)
	})
	pc.OnDataChannel(c.acceptChannel)
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		slog.Debug("webrtc: connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			_ = c.Close()
		}
	})

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		cancel()
		_ = pc.Close()
		return nil, "", fmt.Errorf("webrtc: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		cancel()
		_ = pc.Close()
		return nil, "", fmt.Errorf("webrtc: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		cancel()
		_ = pc.Close()
		return nil, "", fmt.Errorf("webrtc: set local description: %w", err)
	}

	// Waiting for gathering keeps the signalling exchange to a single round
	// trip: the answer already carries every server candidate. Candidates
	// from the client still trickle in afterwards.
	<-pion.GatheringCompletePromise(pc)

	answerSDP, err := withSessionID(pc.LocalDescription().SDP, sessionID)
	if err != nil {
		cancel()
		_ = pc.Close()
		return nil, "", err
	}

	go c.pump()
	return c, answerSDP, nil
}

// Inbound implements [transport.Transport].
func (c *Conn) Inbound() <-chan transport.Inbound {
	return c.inbound
}

// SendControl marshals msg and sends it as a string message on the control
// channel. Sessions negotiated without a data channel have no control plane;
// their messages are dropped with a debug log, audio still flows.
func (c *Conn) SendControl(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webrtc: marshal control: %w", err)
	}
	if !c.hasControl {
		slog.Debug("webrtc: no control channel negotiated, dropping message")
		return nil
	}
	dc, err := c.controlChannel(ctx)
	if err != nil {
		return err
	}
	if err := dc.SendText(string(data)); err != nil {
		if c.ctx.Err() != nil {
			return transport.ErrClosed
		}
		return fmt.Errorf("webrtc: send control: %w", err)
	}
	return nil
}

// SendAudio sends one Opus packet over the negotiated outbound path: the
// audio track when the client offered audio, binary data-channel messages
// otherwise.
func (c *Conn) SendAudio(ctx context.Context, packet []byte) error {
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	if c.track != nil {
		return c.writeRTP(packet)
	}
	dc, err := c.controlChannel(ctx)
	if err != nil {
		return err
	}
	if err := dc.Send(packet); err != nil {
		if c.ctx.Err() != nil {
			return transport.ErrClosed
		}
		return fmt.Errorf("webrtc: send audio: %w", err)
	}
	return nil
}

// Close tears the peer connection down. It is idempotent and always returns
// nil; a close error on an already dead peer carries no information.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.pc.Close()
	})
	return nil
}

// AcceptAnswer applies a remote answer description. The normal flow is
// client-offer/server-answer, so this only runs when a client replies to a
// renegotiation.
func (c *Conn) AcceptAnswer(sdpText string) error {
	desc := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdpText}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("webrtc: set remote answer: %w", err)
	}
	return nil
}

// AddICECandidate feeds one remote candidate to the peer connection. The
// candidate string is the SDP form, with or without its "candidate:" prefix.
func (c *Conn) AddICECandidate(cand candidateInit) error {
	init := pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("webrtc: add ice candidate: %w", err)
	}
	return nil
}

// pump is the sole owner of the inbound channel: it forwards frames from the
// producer queue and closes inbound exactly once when the connection ends,
// whichever producer stops last.
func (c *Conn) pump() {
	defer close(c.inbound)
	for {
		select {
		case <-c.ctx.Done():
			return
		case in := <-c.raw:
			select {
			case c.inbound <- in:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// deliver queues one inbound frame, giving up when the connection closes.
func (c *Conn) deliver(in transport.Inbound) {
	select {
	case c.raw <- in:
	case <-c.ctx.Done():
	}
}

// acceptChannel wires the client's data channel as the control plane. String
// messages are control JSON, binary messages are Opus packets, mirroring the
// WebSocket transport's text/binary split. The first channel wins.
func (c *Conn) acceptChannel(dc *pion.DataChannel) {
	c.dcMu.Lock()
	if c.dc != nil {
		c.dcMu.Unlock()
		slog.Debug("webrtc: ignoring extra data channel", "label", dc.Label())
		return
	}
	c.dc = dc
	c.dcMu.Unlock()

	slog.Debug("webrtc: data channel announced", "label", dc.Label())
	dc.OnOpen(func() {
		close(c.dcReady)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if msg.IsString {
			c.deliver(transport.Inbound{Kind: transport.KindControl, Control: msg.Data})
			return
		}
		c.deliver(transport.Inbound{
			Kind: transport.KindAudio,
			Audio: audio.Chunk{
				Data:       msg.Data,
				Encoding:   audio.EncodingOpus,
				SampleRate: audio.SampleRate,
				Timestamp:  time.Now(),
			},
		})
	})
}

// controlChannel waits for the client's data channel to open.
func (c *Conn) controlChannel(ctx context.Context) (*pion.DataChannel, error) {
	select {
	case <-c.dcReady:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, transport.ErrClosed
	}
	c.dcMu.Lock()
	defer c.dcMu.Unlock()
	return c.dc, nil
}

// readTrack pumps one remote audio track into the inbound stream. Opus
// payloads pass through untouched; PCM tracks are converted to the pipeline
// format and re-encoded so downstream only ever sees Opus. Packets from a
// codec with no fallback are consumed and dropped, keeping the transport
// healthy without any audio.
func (c *Conn) readTrack(track *pion.TrackRemote) {
	codec := track.Codec()
	passthrough := strings.EqualFold(codec.MimeType, pion.MimeTypeOpus)

	var re *reencoder
	if !passthrough {
		var err error
		if re, err = newReencoder(codec); err != nil {
			slog.Warn("webrtc: dropping audio from unsupported track",
				"codec", codec.MimeType, "err", err)
		}
	}
	slog.Info("webrtc: inbound audio track",
		"codec", codec.MimeType, "rate", codec.ClockRate, "reencoded", re != nil)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				slog.Debug("webrtc: track read", "err", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		switch {
		case passthrough:
			c.deliver(transport.Inbound{
				Kind: transport.KindAudio,
				Audio: audio.Chunk{
					Data:       pkt.Payload,
					Encoding:   audio.EncodingOpus,
					SampleRate: audio.SampleRate,
					Timestamp:  time.Now(),
				},
			})
		case re != nil:
			for _, frame := range re.push(pkt.Payload) {
				c.deliver(transport.Inbound{
					Kind: transport.KindAudio,
					Audio: audio.Chunk{
						Data:       frame,
						Encoding:   audio.EncodingOpusReencoded,
						SampleRate: audio.SampleRate,
						Timestamp:  time.Now(),
					},
				})
			}
		}
	}
}

// writeRTP sends one packet on the outbound track. The header mirrors what
// browsers produce for Opus; the track binding rewrites payload type and
// SSRC to the negotiated values. Before the peer connects the track has no
// binding and the write is a silent drop.
func (c *Conn) writeRTP(packet []byte) error {
	c.rtpMu.Lock()
	c.seq++
	c.ts += rtpTicksPerFrame
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
			SSRC:           c.ssrc,
		},
		Payload: packet,
	}
	c.rtpMu.Unlock()

	if err := c.track.WriteRTP(pkt); err != nil {
		if c.ctx.Err() != nil {
			return transport.ErrClosed
		}
		return fmt.Errorf("webrtc: write track: %w", err)
	}
	return nil
}

// drainRTCP consumes feedback on the outbound sender so the interceptor
// chain keeps running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
