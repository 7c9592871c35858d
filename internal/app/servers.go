package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parlo/internal/config"
	"github.com/MrWong99/parlo/internal/health"
	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/internal/role"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/internal/transport/webrtc"
	"github.com/MrWong99/parlo/internal/transport/ws"
)

// Names of the HTTP servers an App runs. [App.BoundAddr] reports listener
// addresses under these names once Run has opened them.
const (
	// ServerVoice carries the WebSocket voice protocol.
	ServerVoice = "voice"
	// ServerSignalling carries the WebRTC signalling exchange.
	ServerSignalling = "signalling"
	// ServerRoleAPI carries the role management REST API.
	ServerRoleAPI = "roles"
	// ServerOps carries health probes and Prometheus metrics.
	ServerOps = "ops"
)

// serverStopTimeout bounds the graceful stop of a single HTTP server.
const serverStopTimeout = 5 * time.Second

// namedServer pairs an HTTP server with its name for logs and BoundAddr.
type namedServer struct {
	name string
	srv  *http.Server
}

// ─── Assembly ────────────────────────────────────────────────────────────────

// initServers builds the transports and the HTTP servers around them. ctx
// becomes the base context of every session, so cancelling it ends live
// voice connections even though their hijacked sockets bypass the HTTP
// servers' graceful stop.
func (a *App) initServers(ctx context.Context) {
	a.sessions = session.NewRegistry()
	template := a.sessionTemplate()

	voiceMux := http.NewServeMux()
	voiceMux.Handle(ws.Path, ws.NewServer(ws.Config{
		Registry:    a.sessions,
		Session:     template,
		Serve:       a.buildPipeline("ws").Serve,
		BaseContext: ctx,
	}))
	a.addServer(ServerVoice, a.cfg.Server.Port, voiceMux)

	if a.cfg.WebRTC.Enabled {
		signalMux := http.NewServeMux()
		signalMux.Handle(a.cfg.WebRTC.SignalingPath, webrtc.NewServer(webrtc.Config{
			Registry:    a.sessions,
			Session:     template,
			Serve:       a.buildPipeline("webrtc").Serve,
			BaseContext: ctx,
			ICE: webrtc.ICEConfig{
				STUNServers: a.cfg.WebRTC.STUNServers,
				TURNServers: turnServers(a.cfg.WebRTC.TURNServers),
			},
		}))
		a.addServer(ServerSignalling, a.cfg.WebRTC.Port, signalMux)
	}

	roleMux := http.NewServeMux()
	role.NewAPI(a.roles).Register(roleMux)
	a.addServer(ServerRoleAPI, a.cfg.RoleAPIPort, observe.Middleware(a.metrics)(roleMux))

	opsMux := http.NewServeMux()
	health.New(
		health.RegistryChecker(a.sessions),
		health.VoicesChecker("tts", a.tts),
	).Register(opsMux)
	opsMux.Handle("GET /metrics", promhttp.Handler())
	a.addServer(ServerOps, a.cfg.Ops.Port, opsMux)
}

// addServer appends a named HTTP server bound to the shared server IP.
func (a *App) addServer(name string, port int, h http.Handler) {
	a.servers = append(a.servers, &namedServer{
		name: name,
		srv: &http.Server{
			Addr:              net.JoinHostPort(a.cfg.Server.IP, strconv.Itoa(port)),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	})
}

// turnServers converts the config TURN entries to the transport type.
func turnServers(entries []config.TURNServerConfig) []webrtc.TURNServer {
	out := make([]webrtc.TURNServer, len(entries))
	for i, e := range entries {
		out[i] = webrtc.TURNServer{URL: e.URL, Username: e.Username, Credential: e.Credential}
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens every listener, then serves until ctx is cancelled or a server
// fails. All listeners are bound before the first request is served, so a
// taken port surfaces before the process is half up. On return the HTTP
// servers are stopped; subsystem teardown stays with [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	listeners := make([]net.Listener, len(a.servers))
	for i, ns := range a.servers {
		ln, err := net.Listen("tcp", ns.srv.Addr)
		if err != nil {
			for _, open := range listeners[:i] {
				open.Close()
			}
			return fmt.Errorf("app: %s server: listen %s: %w", ns.name, ns.srv.Addr, err)
		}
		listeners[i] = ln
		a.boundMu.Lock()
		a.bound[ns.name] = ln.Addr().String()
		a.boundMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ns := range a.servers {
		ln := listeners[i]
		g.Go(func() error {
			slog.Info("server listening", "name", ns.name, "addr", ln.Addr().String())
			if err := ns.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: %s server: %w", ns.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.stopServers()
		return nil
	})
	return g.Wait()
}

// BoundAddr reports the address the named server's listener took, for
// clients connecting to ephemeral test ports. Empty until Run has opened
// the listeners, or when the server is not configured.
func (a *App) BoundAddr(name string) string {
	a.boundMu.Lock()
	defer a.boundMu.Unlock()
	return a.bound[name]
}

// stopServers gracefully stops every HTTP server, forcing the close when
// one does not drain in time. Hijacked voice connections are not waited
// on; their sessions end with the base context.
func (a *App) stopServers() {
	for _, ns := range a.servers {
		ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		if err := ns.srv.Shutdown(ctx); err != nil {
			slog.Warn("server stop forced", "name", ns.name, "err", err)
			ns.srv.Close()
		}
		cancel()
	}
}
