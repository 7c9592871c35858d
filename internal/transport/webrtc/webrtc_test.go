package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v3"

	"github.com/MrWong99/parlo/internal/protocol"
	"github.com/MrWong99/parlo/internal/transport"
)

// clientOffer drives a throwaway client-side peer far enough to produce an
// offer with the requested media sections. The peer is never connected;
// negotiation only needs its SDP.
func clientOffer(t *testing.T, wantAudio, wantControl bool) string {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if wantControl {
		if _, err := pc.CreateDataChannel("control", nil); err != nil {
			t.Fatalf("CreateDataChannel: %v", err)
		}
	}
	if wantAudio {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio); err != nil {
			t.Fatalf("AddTransceiverFromKind: %v", err)
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	return offer.SDP
}

func negotiate(t *testing.T, offerSDP, sessionID string) (*Conn, string) {
	t.Helper()
	conn, answer, err := Negotiate(nil, offerSDP, sessionID)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, answer
}

func TestNegotiate_AnswersAudioOffer(t *testing.T) {
	conn, answer := negotiate(t, clientOffer(t, true, true), "sess-7")

	if got := sessionIDFromSDP(answer); got != "sess-7" {
		t.Fatalf("answer session id = %q, want %q", got, "sess-7")
	}
	p, err := parseOffer(answer)
	if err != nil {
		t.Fatalf("parse answer: %v", err)
	}
	if !p.audio || !p.control {
		t.Fatalf("answer media = %+v, want both sections mirrored", p)
	}
	if conn.track == nil {
		t.Fatal("no outbound track for an offer with audio")
	}
	if !conn.hasControl {
		t.Fatal("control plane not negotiated for an offer with a data channel")
	}
}

func TestNegotiate_DataChannelOnlyOffer(t *testing.T) {
	conn, answer := negotiate(t, clientOffer(t, false, true), "sess-8")

	if conn.track != nil {
		t.Fatal("outbound track created for a data-channel-only offer")
	}
	p, err := parseOffer(answer)
	if err != nil {
		t.Fatalf("parse answer: %v", err)
	}
	if p.audio || !p.control {
		t.Fatalf("answer media = %+v, want application only", p)
	}
}

func TestNegotiate_RejectsUnusableOffers(t *testing.T) {
	if _, _, err := Negotiate(nil, testOffer(nil), "x"); err == nil {
		t.Fatal("Negotiate accepted an offer without media sections")
	}
	if _, _, err := Negotiate(nil, "not an sdp", "x"); err == nil {
		t.Fatal("Negotiate accepted garbage")
	}
}

func TestConn_CloseIsIdempotentAndTerminal(t *testing.T) {
	conn, _ := negotiate(t, clientOffer(t, true, true), "sess-9")

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-conn.Inbound():
		if ok {
			t.Fatal("inbound delivered a frame after close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("inbound stayed open after close")
	}

	if err := conn.SendAudio(context.Background(), []byte{0x01}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("SendAudio after close = %v, want ErrClosed", err)
	}
}

func TestConn_DropsControlWithoutChannel(t *testing.T) {
	conn, _ := negotiate(t, clientOffer(t, true, false), "sess-10")

	// An audio-only peer has no control plane; sends must not block or fail.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.SendControl(ctx, &protocol.STT{Text: "hello"}); err != nil {
		t.Fatalf("SendControl without a channel: %v", err)
	}
}
