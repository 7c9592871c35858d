package webrtc

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// sessionAttr is the session-level SDP attribute naming the signalling
// session a media connection belongs to. Signalling and media run on
// separate sockets; the attribute is what ties them together.
const sessionAttr = "session-id"

// offerProfile summarises what a client offer negotiates.
type offerProfile struct {
	// audio: the offer has an audio media section, so reply audio goes out
	// as an Opus track.
	audio bool

	// control: the offer has an application media section, so a data
	// channel carries control JSON (and, without audio, reply frames).
	control bool

	// session is the offer's session-id attribute, empty when the client
	// left correlation to the server.
	session string
}

// parseOffer inspects an offer SDP for the media sections and session
// attribute that drive negotiation.
func parseOffer(offerSDP string) (offerProfile, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offerSDP)); err != nil {
		return offerProfile{}, fmt.Errorf("webrtc: parse offer sdp: %w", err)
	}

	var p offerProfile
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			p.audio = true
		case "application":
			p.control = true
		}
	}
	for _, attr := range desc.Attributes {
		if attr.Key == sessionAttr {
			p.session = attr.Value
		}
	}
	return p, nil
}

// withSessionID returns sdpText with the session-id attribute set to id at
// session level, replacing any value already present.
func withSessionID(sdpText, id string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return "", fmt.Errorf("webrtc: parse answer sdp: %w", err)
	}

	attrs := desc.Attributes[:0]
	for _, attr := range desc.Attributes {
		if attr.Key != sessionAttr {
			attrs = append(attrs, attr)
		}
	}
	desc.Attributes = append(attrs, sdp.Attribute{Key: sessionAttr, Value: id})

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("webrtc: marshal answer sdp: %w", err)
	}
	return string(out), nil
}

// sessionIDFromSDP returns the session-id attribute value, or "".
func sessionIDFromSDP(sdpText string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return ""
	}
	for _, attr := range desc.Attributes {
		if attr.Key == sessionAttr {
			return attr.Value
		}
	}
	return ""
}
