// Package mcp connects to Model Context Protocol tool servers and exposes
// their tools as intent functions.
//
// The host is populated once at startup from configuration: each configured
// server is connected over stdio or streamable HTTP using the official MCP Go
// SDK, its tool catalogue is discovered, and [Host.Functions] hands the tools
// to the intent registry so the language model can call them like any builtin
// intent.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MrWong99/parlo/internal/intent"
	"github.com/MrWong99/parlo/pkg/types"
)

// Transport names the wire mechanism used to reach an MCP server.
type Transport string

const (
	// TransportStdio runs the server as a child process and speaks JSON-RPC
	// over its stdin and stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP talks to a remote server over the MCP
	// streamable HTTP transport.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t names a supported transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is a unique human-readable identifier for this server, used in
	// log messages and errors.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable (with optional space-separated arguments)
	// launched when Transport is [TransportStdio].
	Command string

	// URL is the endpoint address used when Transport is
	// [TransportStreamableHTTP].
	URL string

	// Auth configures authentication for streamable-http servers. May be nil.
	Auth *Auth

	// Env holds additional environment variables injected into the server
	// process for stdio transport. May be nil.
	Env map[string]string
}

// Auth configures how requests to an HTTP MCP server are authenticated.
type Auth struct {
	// Token is a static Bearer token. Ignored when OAuth is set.
	Token string

	// OAuth obtains tokens via the OAuth 2.1 client-credentials flow.
	OAuth *OAuthConfig
}

// OAuthConfig holds the client-credentials flow parameters.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// serverConn is a live connection to one MCP server together with the tools
// it announced.
type serverConn struct {
	session *mcpsdk.ClientSession
	tools   []types.ToolDefinition
}

// Host manages connections to MCP servers and converts their tools into
// intent functions. Safe for concurrent use.
type Host struct {
	mu      sync.RWMutex
	client  *mcpsdk.Client
	servers map[string]*serverConn
}

// NewHost creates a host with no connections. The single SDK client is
// shared across all server sessions.
func NewHost() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parlo", Version: "1.0.0"},
		nil,
	)
	return &Host{
		client:  client,
		servers: make(map[string]*serverConn),
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. A server with the same Name replaces the previous
// connection.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: authHTTPClient(ctx, cfg.Auth),
		}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []types.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
	}
	h.servers[cfg.Name] = &serverConn{session: session, tools: discovered}

	slog.Info("mcp: server connected",
		"server", cfg.Name, "transport", string(cfg.Transport), "tools", len(discovered))
	return nil
}

// Functions returns the tools of every connected server as intent functions.
// Each function call is routed to the session that announced the tool; the
// tool's textual output becomes the spoken reply.
func (h *Host) Functions() []intent.Function {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var funcs []intent.Function
	for name, conn := range h.servers {
		for _, def := range conn.tools {
			funcs = append(funcs, h.functionFor(name, def))
		}
	}
	return funcs
}

// functionFor builds the intent function wrapper for one discovered tool.
func (h *Host) functionFor(serverName string, def types.ToolDefinition) intent.Function {
	return intent.Function{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  def.Parameters,
		Handle: func(ctx context.Context, _ intent.SessionHooks, args string) (intent.Result, error) {
			content, err := h.call(ctx, serverName, def.Name, args)
			if err != nil {
				return intent.Result{}, err
			}
			return intent.Result{Reply: content}, nil
		},
	}
}

// call executes a tool on the named server and returns its concatenated text
// content. Application-level tool errors surface as Go errors.
func (h *Host) call(ctx context.Context, serverName, toolName, args string) (string, error) {
	h.mu.RLock()
	conn, ok := h.servers[serverName]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp: server %q not connected for tool %q", serverName, toolName)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("mcp: invalid args JSON for tool %q: %w", toolName, err)
		}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("mcp: call tool %q on %q: %w", toolName, serverName, err)
	}

	content := textContent(result)
	if result.IsError {
		return "", fmt.Errorf("mcp: tool %q reported an error: %s", toolName, content)
	}
	return content, nil
}

// Close shuts down all server connections. After Close the host must not be
// used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: close server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	return firstErr
}

// textContent concatenates the text parts of a tool call result.
func textContent(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// authHTTPClient builds the HTTP client for a streamable-http server. A nil
// auth config keeps the SDK default client.
func authHTTPClient(ctx context.Context, auth *Auth) *http.Client {
	switch {
	case auth == nil:
		return nil
	case auth.OAuth != nil:
		cc := &clientcredentials.Config{
			ClientID:     auth.OAuth.ClientID,
			ClientSecret: auth.OAuth.ClientSecret,
			TokenURL:     auth.OAuth.TokenURL,
			Scopes:       auth.OAuth.Scopes,
		}
		return cc.Client(ctx)
	case auth.Token != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token})
		return oauth2.NewClient(ctx, src)
	default:
		return nil
	}
}

// schemaToMap converts a tool's input schema to the map shape the intent
// registry carries.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments,
// e.g. "/bin/foo --bar baz" becomes ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
