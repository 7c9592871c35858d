package webrtc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Signalling message kinds after normalisation. Clients vary the spelling
// ("offer"/"sdp_offer", "candidate"/"ice_candidate", mixed case); decoding
// folds them to these.
const (
	sigOffer     = "offer"
	sigAnswer    = "answer"
	sigCandidate = "ice_candidate"
	sigPing      = "ping"
	sigClose     = "close"
)

// signal is one decoded client signalling message.
type signal struct {
	// Type is the normalised message kind, one of the sig constants;
	// anything else is the client's literal type for the error reply.
	Type string

	// SDP is the description text for offer and answer messages.
	SDP string

	// Candidate carries the fields of an ice_candidate message.
	Candidate candidateInit

	// Timestamp is a ping's timestamp field, echoed verbatim in the pong.
	Timestamp json.RawMessage
}

// candidateInit is a remote ICE candidate as signalled by the client. The
// candidate string is the SDP form, "candidate:<foundation> <component>
// <proto> <priority> <ip> <port> typ <type> ...".
type candidateInit struct {
	Candidate     string  `json:"candidate"`
	SDPMid        string  `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// decodeSignal parses one signalling message, accepting both the flat shape
// and the payload-wrapped shape for every kind.
func decodeSignal(data []byte) (signal, error) {
	var env struct {
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return signal{}, fmt.Errorf("webrtc: parse signalling message: %w", err)
	}

	// The body is the payload when one is present, the whole message
	// otherwise.
	body := json.RawMessage(data)
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		body = env.Payload
	}

	sig := signal{Type: strings.ToLower(env.Type), Timestamp: env.Timestamp}
	switch {
	case sig.Type == "offer" || sig.Type == "sdp_offer":
		sig.Type = sigOffer
		text, err := sdpText(body)
		if err != nil {
			return signal{}, err
		}
		sig.SDP = text
	case sig.Type == "answer" || sig.Type == "sdp_answer":
		sig.Type = sigAnswer
		text, err := sdpText(body)
		if err != nil {
			return signal{}, err
		}
		sig.SDP = text
	case strings.Contains(sig.Type, "candidate"):
		sig.Type = sigCandidate
		cand, err := candidateFields(body)
		if err != nil {
			return signal{}, err
		}
		sig.Candidate = cand
	}
	return sig, nil
}

// sdpText digs the description text out of an offer or answer body. Clients
// send it as `{"sdp": {"type": ..., "sdp": ...}}`, `{"sdp": "v=0..."}` or as
// a bare string.
func sdpText(body json.RawMessage) (string, error) {
	var bare string
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	var wrapped struct {
		SDP json.RawMessage `json:"sdp"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return "", fmt.Errorf("webrtc: parse description: %w", err)
	}
	if len(wrapped.SDP) == 0 {
		return "", fmt.Errorf("webrtc: description has no sdp field")
	}

	if err := json.Unmarshal(wrapped.SDP, &bare); err == nil {
		return bare, nil
	}
	var desc struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(wrapped.SDP, &desc); err != nil {
		return "", fmt.Errorf("webrtc: parse description: %w", err)
	}
	return desc.SDP, nil
}

// candidateFields digs the candidate out of an ice_candidate body, which
// nests it as `{"candidate": {"candidate": ..., "sdpMid": ...}}` or carries
// the fields flat.
func candidateFields(body json.RawMessage) (candidateInit, error) {
	var outer struct {
		Candidate     json.RawMessage `json:"candidate"`
		SDPMid        string          `json:"sdpMid"`
		SDPMLineIndex *uint16         `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return candidateInit{}, fmt.Errorf("webrtc: parse candidate: %w", err)
	}

	// Flat shape: the candidate field is the SDP string itself.
	var bare string
	if err := json.Unmarshal(outer.Candidate, &bare); err == nil {
		return candidateInit{
			Candidate:     bare,
			SDPMid:        outer.SDPMid,
			SDPMLineIndex: outer.SDPMLineIndex,
		}, nil
	}

	// Nested shape: the candidate field is an object carrying everything.
	var cand candidateInit
	if err := json.Unmarshal(outer.Candidate, &cand); err != nil {
		return candidateInit{}, fmt.Errorf("webrtc: parse candidate: %w", err)
	}
	return cand, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Server → client
// ─────────────────────────────────────────────────────────────────────────────

// connectedMsg greets a freshly accepted signalling client with the
// identifiers its media session will carry.
type connectedMsg struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
}

// answerMsg relays the server's SDP answer for the client's offer.
type answerMsg struct {
	Type     string      `json:"type"`
	SDP      sessionDesc `json:"sdp"`
	ClientID string      `json:"client_id"`
}

// sessionDesc is the `{type, sdp}` description shape used in answers.
type sessionDesc struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// pongMsg answers a ping, echoing the client's timestamp.
type pongMsg struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// closedMsg confirms a close request.
type closedMsg struct {
	Type string `json:"type"`
}

// errorMsg reports a signalling-level problem without dropping the
// connection.
type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
