package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v3"

	"github.com/MrWong99/parlo/internal/session"
)

// errDisconnected is the session close cause after the peer went away.
var errDisconnected = errors.New("client disconnected")

// errSuperseded is the close cause of a media session displaced by a fresh
// offer on the same signalling connection.
var errSuperseded = errors.New("superseded by a new offer")

// ICEConfig lists the connectivity servers handed to every peer connection.
type ICEConfig struct {
	// STUNServers are STUN URLs, e.g. "stun:stun.l.google.com:19302".
	STUNServers []string

	// TURNServers are TURN relays with credentials.
	TURNServers []TURNServer
}

// TURNServer describes one TURN relay.
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// iceServers converts the config to pion's form.
func (c ICEConfig) iceServers() []pion.ICEServer {
	servers := make([]pion.ICEServer, 0, len(c.STUNServers)+len(c.TURNServers))
	for _, url := range c.STUNServers {
		servers = append(servers, pion.ICEServer{URLs: []string{url}})
	}
	for _, turn := range c.TURNServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{turn.URL},
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}
	return servers
}

// Config configures a signalling [Server].
type Config struct {
	// Registry tracks live sessions by client id. Required.
	Registry *session.Registry

	// Session is the template for new sessions. DeviceID, ID and Transport
	// are filled in per peer.
	Session session.Config

	// Serve runs the voice pipeline on one session and returns when the
	// session ends. Required.
	Serve func(*session.Session)

	// BaseContext is the parent of every session context. Defaults to
	// context.Background().
	BaseContext context.Context

	// ICE lists the STUN/TURN servers offered to peers.
	ICE ICEConfig
}

// Server negotiates WebRTC peers over a signalling WebSocket endpoint. It is
// an [http.Handler] meant to be mounted at the configured signalling path;
// each accepted connection runs its signalling loop inside the handler
// goroutine, while negotiated media sessions are served on their own.
type Server struct {
	registry *session.Registry
	template session.Config
	serve    func(*session.Session)
	base     context.Context
	ice      []pion.ICEServer
}

// NewServer creates a signalling server.
func NewServer(cfg Config) *Server {
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Server{
		registry: cfg.Registry,
		template: cfg.Session,
		serve:    cfg.Serve,
		base:     base,
		ice:      cfg.ICE.iceServers(),
	}
}

// ServeHTTP accepts the signalling WebSocket, greets the client with its
// identifiers and relays messages until it disconnects. Clients without a
// client_id query parameter (or client-id header) are assigned one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = r.Header.Get("client-id")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("webrtc: signalling accept", "client", clientID, "err", err)
		return
	}

	g := &signaller{
		srv:       s,
		ws:        wsConn,
		clientID:  clientID,
		sessionID: uuid.NewString(),
	}
	g.run()
}

// signaller is the state of one signalling connection. Every field is owned
// by the run loop; the media session's serving goroutine touches the session
// only through its own idempotent teardown.
type signaller struct {
	srv *Server
	ws  *websocket.Conn

	clientID  string
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	conn *Conn
	sess *session.Session

	// pending buffers candidates that arrive before the offer does.
	pending []candidateInit
}

// run drives the signalling loop until the client disconnects. Media
// teardown follows the signalling connection: when it ends, so does the peer
// it negotiated.
func (g *signaller) run() {
	g.ctx, g.cancel = context.WithCancel(g.srv.base)
	defer g.cancel()
	defer g.ws.Close(websocket.StatusNormalClosure, "signalling closed")
	defer g.closeSession(errDisconnected)

	slog.Info("webrtc: signalling connected",
		"client", g.clientID, "session", g.sessionID)
	defer slog.Info("webrtc: signalling disconnected", "client", g.clientID)

	g.send(connectedMsg{
		Type:      "connected",
		ClientID:  g.clientID,
		SessionID: g.sessionID,
	})

	for {
		typ, data, err := g.ws.Read(g.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("webrtc: ignoring binary signalling frame",
				"client", g.clientID, "len", len(data))
			continue
		}
		g.handle(data)
	}
}

// handle dispatches one signalling message.
func (g *signaller) handle(data []byte) {
	sig, err := decodeSignal(data)
	if err != nil {
		slog.Warn("webrtc: bad signalling message", "client", g.clientID, "err", err)
		g.send(errorMsg{Type: "error", Message: "invalid message: " + err.Error()})
		return
	}

	switch sig.Type {
	case sigOffer:
		g.handleOffer(sig.SDP)
	case sigAnswer:
		g.handleAnswer(sig.SDP)
	case sigCandidate:
		g.handleCandidate(sig.Candidate)
	case sigPing:
		ts := sig.Timestamp
		if len(ts) == 0 {
			ts = json.RawMessage("0")
		}
		g.send(pongMsg{Type: "pong", Timestamp: ts})
	case sigClose:
		// Close ends the media session only; the client may signal a new
		// offer on the same connection.
		g.closeSession(errDisconnected)
		g.send(closedMsg{Type: "closed"})
	default:
		slog.Warn("webrtc: unknown signalling type",
			"client", g.clientID, "type", sig.Type)
		g.send(errorMsg{Type: "error", Message: "unsupported message type: " + sig.Type})
	}
}

// handleOffer negotiates a peer connection for the client's offer, answers,
// registers the media session and starts serving it. A second offer
// displaces the session negotiated by the first.
func (g *signaller) handleOffer(offerSDP string) {
	g.closeSession(errSuperseded)

	// A client that embedded its own session-id attribute gets it echoed;
	// everyone else correlates on the signalling-assigned id.
	sid := sessionIDFromSDP(offerSDP)
	if sid == "" {
		sid = g.sessionID
	}

	conn, answerSDP, err := Negotiate(g.srv.ice, offerSDP, sid)
	if err != nil {
		slog.Warn("webrtc: negotiate", "client", g.clientID, "err", err)
		g.send(errorMsg{Type: "error", Message: "negotiation failed: " + err.Error()})
		return
	}

	cfg := g.srv.template
	cfg.DeviceID = g.clientID
	cfg.ID = sid
	cfg.Transport = conn
	sess := session.New(g.srv.base, cfg)

	g.conn = conn
	g.sess = sess
	g.srv.registry.Add(sess)

	// The answer is sent once; a client that missed it re-offers.
	if err := g.send(answerMsg{
		Type:     "answer",
		SDP:      sessionDesc{Type: "answer", SDP: answerSDP},
		ClientID: g.clientID,
	}); err != nil {
		g.closeSession(fmt.Errorf("webrtc: send answer: %w", err))
		return
	}
	slog.Info("webrtc: answered offer",
		"client", g.clientID, "session", sess.ID, "audio", conn.track != nil)

	for _, cand := range g.pending {
		g.addCandidate(cand)
	}
	g.pending = nil

	go func() {
		g.srv.serve(sess)
		g.srv.registry.Remove(sess)
		sess.Close(errDisconnected)
	}()
}

// handleAnswer applies a remote answer to the live peer, completing a
// renegotiation the client initiated from our offer.
func (g *signaller) handleAnswer(answerSDP string) {
	if g.conn == nil {
		slog.Warn("webrtc: answer without a peer connection", "client", g.clientID)
		return
	}
	if err := g.conn.AcceptAnswer(answerSDP); err != nil {
		slog.Warn("webrtc: accept answer", "client", g.clientID, "err", err)
	}
}

// handleCandidate feeds one remote candidate to the peer, buffering it when
// the offer has not arrived yet.
func (g *signaller) handleCandidate(cand candidateInit) {
	if cand.Candidate == "" {
		slog.Debug("webrtc: empty ice candidate", "client", g.clientID)
		return
	}
	if g.conn == nil {
		g.pending = append(g.pending, cand)
		return
	}
	g.addCandidate(cand)
}

func (g *signaller) addCandidate(cand candidateInit) {
	if err := g.conn.AddICECandidate(cand); err != nil {
		slog.Warn("webrtc: add candidate", "client", g.clientID, "err", err)
	}
}

// closeSession ends the live media session, if any. Safe against the serving
// goroutine's own teardown: session close is idempotent and registry removal
// is identity-checked.
func (g *signaller) closeSession(cause error) {
	if g.sess == nil {
		return
	}
	g.srv.registry.Remove(g.sess)
	g.sess.Close(cause)
	g.sess = nil
	g.conn = nil
}

// send writes one signalling message, logging instead of failing the loop on
// marshal problems.
func (g *signaller) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("webrtc: marshal signalling message", "err", err)
		return err
	}
	if err := g.ws.Write(g.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("webrtc: signalling write: %w", err)
	}
	return nil
}
