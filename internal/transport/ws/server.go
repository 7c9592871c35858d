package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/parlo/internal/session"
)

// Path is the WebSocket endpoint voice clients dial.
const Path = "/xiaozhi/v1/"

// errDisconnected is the session close cause after the client went away.
var errDisconnected = errors.New("client disconnected")

// Config configures a transport [Server].
type Config struct {
	// Registry tracks live sessions by device id. Required.
	Registry *session.Registry

	// Session is the template for new sessions. DeviceID and Transport are
	// filled in per connection.
	Session session.Config

	// Serve runs the voice pipeline on one session and returns when the
	// session ends. Required.
	Serve func(*session.Session)

	// BaseContext is the parent of every session context. Defaults to
	// context.Background().
	BaseContext context.Context
}

// Server upgrades HTTP requests to WebSocket sessions. It is an
// [http.Handler] meant to be mounted at [Path]; each connection is served to
// completion inside its handler goroutine.
type Server struct {
	registry *session.Registry
	template session.Config
	serve    func(*session.Session)
	base     context.Context
}

// NewServer creates a transport server.
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
	}
}

// ServeHTTP accepts the WebSocket handshake, registers a session for the
// device and blocks until the session ends. A connection without a device-id
// header is rejected before the upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get("device-id")
	if deviceID == "" {
		http.Error(w, "missing device-id header", http.StatusBadRequest)
		return
	}
	clientID := r.Header.Get("client-id")

	// Device firmware sends no browser Origin; the origin check would only
	// reject legitimate clients.
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("ws: accept", "device", deviceID, "err", err)
		return
	}

	cfg := s.template
	cfg.DeviceID = deviceID
	cfg.Transport = NewConn(wsConn)
	sess := session.New(s.base, cfg)

	s.registry.Add(sess)
	defer s.registry.Remove(sess)
	defer sess.Close(errDisconnected)

	slog.Info("ws: client connected",
		"device", deviceID, "client", clientID, "session", sess.ID)
	s.serve(sess)
	slog.Info("ws: client disconnected", "device", deviceID, "session", sess.ID)
}
