// Package app wires all Parlo subsystems into a running server process.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem, Run serves the HTTP listeners until its context ends, and
// Shutdown tears everything down in reverse wiring order.
//
// For testing, inject mock providers via functional options (WithASR,
// WithLLM, etc.). When an option is not provided, New creates the provider
// selected in the config from the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/parlo/internal/config"
	"github.com/MrWong99/parlo/internal/dialog"
	"github.com/MrWong99/parlo/internal/intent"
	"github.com/MrWong99/parlo/internal/mcp"
	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/internal/pipeline"
	"github.com/MrWong99/parlo/internal/playout"
	"github.com/MrWong99/parlo/internal/resilience"
	"github.com/MrWong99/parlo/internal/role"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/internal/wake"
	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/provider/stt"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/provider/vad"
)

// App owns every subsystem behind the Parlo endpoints.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Providers — created from the registry in New, or injected.
	asr     stt.Provider
	asrName string
	llm     llm.Provider
	llmName string
	tts     tts.Provider
	ttsName string
	vad     vad.Engine

	// Subsystems — initialised in New, torn down in Shutdown.
	roles      *role.Store
	intents    *intent.Registry
	mcpHost    *mcp.Host
	wakeWords  *wake.Matcher
	sessions   *session.Registry
	stopNotify [][]byte

	servers []*namedServer

	// bound maps server names to the addresses their listeners actually
	// took, filled in by Run.
	boundMu sync.Mutex
	bound   map[string]string

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithASR injects a recognition provider instead of creating one from config.
func WithASR(p stt.Provider) Option {
	return func(a *App) { a.asr = p }
}

// WithLLM injects a dialogue provider instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithTTS injects a synthesis provider instead of creating one from config.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.tts = p }
}

// WithVAD injects a speech detector instead of creating one from config.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.vad = e }
}

// WithRoleStore injects a role store instead of opening the configured file.
func WithRoleStore(s *role.Store) Option {
	return func(a *App) { a.roles = s }
}

// WithMetrics injects a metric set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Providers come out
// of the registry according to cfg.SelectedModule, each wrapped in its
// fallback chain when cfg names one. Use Option functions to inject test
// doubles for any slot.
//
// New performs all initialisation synchronously: provider construction,
// role store loading, intent and MCP registration, transport and server
// assembly. The returned App is not serving yet; call [App.Run].
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		bound: make(map[string]string),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(reg); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Role store ────────────────────────────────────────────────────
	if err := a.initRoles(); err != nil {
		return nil, fmt.Errorf("app: init roles: %w", err)
	}

	// ── 3. Intents + MCP ─────────────────────────────────────────────────
	if err := a.initIntents(ctx); err != nil {
		return nil, fmt.Errorf("app: init intents: %w", err)
	}

	// ── 4. Wakewords + canned audio ──────────────────────────────────────
	a.wakeWords = wake.New(cfg.WakeupWords)
	a.initStopNotify()

	// ── 5. Transports + servers ──────────────────────────────────────────
	a.initServers(ctx)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders fills the provider slots from the registry and wraps each
// in its configured fallback chain. An injected provider skips creation but
// still gets the chain, so tests can sit a mock at the front of one.
func (a *App) initProviders(reg *config.Registry) error {
	sel := a.cfg.SelectedModule
	a.asrName, a.llmName, a.ttsName = sel.ASR, sel.LLM, sel.TTS

	if a.asr == nil {
		p, err := reg.CreateASR(a.cfg)
		if err != nil {
			return fmt.Errorf("create ASR %q: %w", sel.ASR, err)
		}
		a.trackCloser(p)
		a.asr = p
	}
	if names := a.cfg.FallbackModules.ASR; len(names) > 0 {
		chain := resilience.NewASRFallback(a.asrName, a.asr, resilience.FallbackConfig{})
		for _, name := range names {
			if name == sel.ASR {
				continue
			}
			p, err := reg.CreateASRNamed(a.cfg, name)
			if err != nil {
				return fmt.Errorf("create ASR fallback %q: %w", name, err)
			}
			a.trackCloser(p)
			chain.AddFallback(name, p)
		}
		a.asr = chain
	}

	if a.llm == nil {
		p, err := reg.CreateLLM(a.cfg)
		if err != nil {
			return fmt.Errorf("create LLM %q: %w", sel.LLM, err)
		}
		a.trackCloser(p)
		a.llm = p
	}
	if names := a.cfg.FallbackModules.LLM; len(names) > 0 {
		chain := resilience.NewLLMFallback(a.llmName, a.llm, resilience.FallbackConfig{})
		for _, name := range names {
			if name == sel.LLM {
				continue
			}
			p, err := reg.CreateLLMNamed(a.cfg, name)
			if err != nil {
				return fmt.Errorf("create LLM fallback %q: %w", name, err)
			}
			a.trackCloser(p)
			chain.AddFallback(name, p)
		}
		a.llm = chain
	}

	if a.tts == nil {
		p, err := reg.CreateTTS(a.cfg)
		if err != nil {
			return fmt.Errorf("create TTS %q: %w", sel.TTS, err)
		}
		a.trackCloser(p)
		a.tts = p
	}
	if names := a.cfg.FallbackModules.TTS; len(names) > 0 {
		chain := resilience.NewTTSFallback(a.ttsName, a.tts, resilience.FallbackConfig{})
		for _, name := range names {
			if name == sel.TTS {
				continue
			}
			p, err := reg.CreateTTSNamed(a.cfg, name)
			if err != nil {
				return fmt.Errorf("create TTS fallback %q: %w", name, err)
			}
			a.trackCloser(p)
			chain.AddFallback(name, p)
		}
		a.tts = chain
	}

	if a.vad == nil {
		e, err := reg.CreateVAD(a.cfg)
		if err != nil {
			return fmt.Errorf("create VAD %q: %w", sel.VAD, err)
		}
		a.trackCloser(e)
		a.vad = e
	}

	return nil
}

// trackCloser registers v's Close for Shutdown when it has one.
func (a *App) trackCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// initRoles opens the persistent role store. A missing file starts the
// store empty; roles created over the API are saved back to it.
func (a *App) initRoles() error {
	if a.roles != nil {
		return nil
	}
	store, err := role.Open(a.cfg.RolesFile)
	if err != nil {
		return err
	}
	a.roles = store
	return nil
}

// initIntents registers the built-in functions, the exit-phrase hook and
// every function exported by the configured MCP servers.
func (a *App) initIntents(ctx context.Context) error {
	a.intents = intent.NewRegistry()
	if err := a.intents.Register(intent.ChangeRole(a.roles)); err != nil {
		return err
	}
	if err := a.intents.Register(intent.ExitIntent(intent.DefaultFarewell)); err != nil {
		return err
	}
	if len(a.cfg.ExitCommands) > 0 {
		a.intents.RegisterHook(intent.ExitPhrases(wake.New(a.cfg.ExitCommands), intent.DefaultFarewell))
	}

	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}
	host := mcp.NewHost()
	a.mcpHost = host
	a.closers = append(a.closers, host.Close)
	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Auth:      mcpAuth(srv.Auth),
			Env:       srv.Env,
		}
		if err := host.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	for _, fn := range host.Functions() {
		if err := a.intents.Register(fn); err != nil {
			return fmt.Errorf("register mcp function %q: %w", fn.Name, err)
		}
	}
	return nil
}

// mcpAuth converts the config auth block to the mcp package's type.
func mcpAuth(c *config.MCPAuthConfig) *mcp.Auth {
	if c == nil {
		return nil
	}
	auth := &mcp.Auth{Token: c.Token}
	if c.OAuth != nil {
		auth.OAuth = &mcp.OAuthConfig{
			ClientID:     c.OAuth.ClientID,
			ClientSecret: c.OAuth.ClientSecret,
			TokenURL:     c.OAuth.TokenURL,
			Scopes:       c.OAuth.Scopes,
		}
	}
	return auth
}

// initStopNotify pre-encodes the stop notification clip. A missing or
// unreadable file disables the notification rather than failing startup.
func (a *App) initStopNotify() {
	if !a.cfg.EnableStopTTSNotify {
		return
	}
	frames, d, err := audio.EncodeWAVFile(a.cfg.StopTTSNotifyVoice)
	if err != nil {
		slog.Warn("stop notification disabled", "file", a.cfg.StopTTSNotifyVoice, "err", err)
		return
	}
	a.stopNotify = frames
	slog.Info("stop notification loaded", "file", a.cfg.StopTTSNotifyVoice, "duration", d)
}

// sessionTemplate builds the config new sessions start from. The default
// role provides the system prompt and voice; without one the raw config
// prompt and the selected synthesiser's configured voice apply.
func (a *App) sessionTemplate() session.Config {
	prompt := a.cfg.Prompt
	voice := a.configuredVoice()
	if r, ok := a.roles.Default(); ok {
		prompt = intent.RolePrompt(r)
		if r.Voice != "" {
			voice = r.Voice
		}
	}
	return session.Config{
		SystemPrompt: prompt,
		VoiceID:      voice,
		MaxUtterance: a.cfg.Utterance.Max(),
	}
}

// configuredVoice returns the voice id from the selected TTS provider's
// sub-table, or "" for the provider default.
func (a *App) configuredVoice() string {
	switch a.cfg.SelectedModule.TTS {
	case "openai":
		return a.cfg.TTS.OpenAI.Voice
	case "edge":
		return a.cfg.TTS.Edge.Voice
	case "coqui":
		return a.cfg.TTS.Coqui.Voice
	default:
		return ""
	}
}

// buildPipeline assembles the voice pipeline for one transport flavour.
// The two flavours share providers, intents and the wakeword matcher but
// keep separate players, so frame metrics carry the right transport label.
func (a *App) buildPipeline(transport string) *pipeline.Pipeline {
	player := playout.NewPlayer(playout.Config{
		TTS:        a.tts,
		TTSName:    a.ttsName,
		Transport:  transport,
		Metrics:    a.metrics,
		StopNotify: a.stopNotify,
	})
	return pipeline.New(pipeline.Config{
		ASR:          a.asr,
		ASRName:      a.asrName,
		ASRTimeout:   a.cfg.ASR.Timeout(),
		VAD:          a.vad,
		VADThreshold: float32(a.cfg.VAD.Threshold),
		MinSilence:   a.cfg.VAD.MinSilence(),
		Dialog: dialog.Config{
			LLM:      a.llm,
			Intents:  a.intents,
			MaxTurns: a.cfg.History.MaxTurns,
		},
		LLMName:  a.llmName,
		Player:   player,
		Intents:  a.intents,
		Wake:     a.wakeWords,
		Greeting: a.cfg.GreetingEnabled(),
		Metrics:  a.metrics,
	})
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// errShutdown is the close cause handed to sessions still live when the
// process stops.
var errShutdown = errors.New("app: server shutting down")

// Shutdown tears the application down: the HTTP servers stop accepting,
// live sessions are closed, then the closers run in reverse wiring order.
// It respects the context deadline; closers that did not get their turn
// before ctx expired are skipped and the context error reported.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		a.stopServers()
		if err := a.sessions.CloseAll(errShutdown); err != nil {
			errs = append(errs, err)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
