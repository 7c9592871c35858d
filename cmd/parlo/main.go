// Command parlo is the main entry point for the Parlo voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parlo/internal/app"
	"github.com/MrWong99/parlo/internal/config"
	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/parlo/pkg/provider/llm/openai"
	"github.com/MrWong99/parlo/pkg/provider/stt"
	"github.com/MrWong99/parlo/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/parlo/pkg/provider/stt/openai"
	"github.com/MrWong99/parlo/pkg/provider/stt/whisper"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/provider/tts/coqui"
	"github.com/MrWong99/parlo/pkg/provider/tts/edge"
	ttsopenai "github.com/MrWong99/parlo/pkg/provider/tts/openai"
	"github.com/MrWong99/parlo/pkg/provider/vad"
	"github.com/MrWong99/parlo/pkg/provider/vad/energy"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlo: config file %q not found, copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parlo starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory reads its own sub-table of the config and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("openai", func(cfg *config.Config) (stt.Provider, error) {
		s := cfg.ASR.OpenAI
		var opts []sttopenai.Option
		if s.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(s.BaseURL))
		}
		if s.Language != "" {
			opts = append(opts, sttopenai.WithLanguage(s.Language))
		}
		return sttopenai.New(s.APIKey, s.Model, opts...)
	})

	reg.RegisterASR("whisper", func(cfg *config.Config) (stt.Provider, error) {
		s := cfg.ASR.Whisper
		var opts []whisper.Option
		if s.Model != "" {
			opts = append(opts, whisper.WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, whisper.WithLanguage(s.Language))
		}
		return whisper.New(s.URL, opts...)
	})

	reg.RegisterASR("whisper-native", func(cfg *config.Config) (stt.Provider, error) {
		s := cfg.ASR.WhisperNative
		var opts []whisper.NativeOption
		if s.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(s.Language))
		}
		return whisper.NewNative(s.ModelPath, opts...)
	})

	reg.RegisterASR("deepgram", func(cfg *config.Config) (stt.Provider, error) {
		s := cfg.ASR.Deepgram
		var opts []deepgram.Option
		if s.Model != "" {
			opts = append(opts, deepgram.WithModel(s.Model))
		}
		if s.Language != "" {
			opts = append(opts, deepgram.WithLanguage(s.Language))
		}
		if s.Endpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(s.Endpoint))
		}
		return deepgram.New(s.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(cfg *config.Config) (llm.Provider, error) {
		s := cfg.LLM.OpenAI
		var opts []llmopenai.Option
		if s.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(s.BaseURL))
		}
		if s.Organization != "" {
			opts = append(opts, llmopenai.WithOrganization(s.Organization))
		}
		return llmopenai.New(s.APIKey, s.Model, opts...)
	})

	// The any-llm backends share one pattern: optional API key plus optional
	// base URL. The local servers (ollama, llamacpp, llamafile) run keyless.
	for _, name := range []string{
		"anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(cfg *config.Config) (llm.Provider, error) {
			s, _ := cfg.LLM.Backend(name)
			var opts []anyllmlib.Option
			if s.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(s.APIKey))
			}
			if s.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(s.BaseURL))
			}
			return anyllm.New(name, s.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(cfg *config.Config) (tts.Provider, error) {
		s := cfg.TTS.OpenAI
		var opts []ttsopenai.Option
		if s.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(s.BaseURL))
		}
		return ttsopenai.New(s.APIKey, s.Model, opts...)
	})

	reg.RegisterTTS("edge", func(cfg *config.Config) (tts.Provider, error) {
		s := cfg.TTS.Edge
		var opts []edge.Option
		if s.OutputFormat != "" {
			opts = append(opts, edge.WithOutputFormat(s.OutputFormat))
		}
		if s.Language != "" {
			opts = append(opts, edge.WithLanguage(s.Language))
		}
		return edge.New(opts...)
	})

	reg.RegisterTTS("coqui", func(cfg *config.Config) (tts.Provider, error) {
		s := cfg.TTS.Coqui
		var opts []coqui.Option
		if s.Language != "" {
			opts = append(opts, coqui.WithLanguage(s.Language))
		}
		if s.APIMode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(s.APIMode)))
		}
		return coqui.New(s.URL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(*config.Config) (vad.Engine, error) {
		return energy.New(), nil
	})

	// Debug log of all registered providers.
	for slot, names := range config.ValidModuleNames {
		for _, name := range names {
			slog.Debug("registered provider", "slot", slot, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Parlo — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printModule("ASR", cfg.SelectedModule.ASR, asrModel(cfg))
	printModule("LLM", cfg.SelectedModule.LLM, llmModel(cfg))
	printModule("TTS", cfg.SelectedModule.TTS, ttsModel(cfg))
	printModule("VAD", cfg.SelectedModule.VAD, "")
	if cfg.WebRTC.Enabled {
		fmt.Printf("║  WebRTC          : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  WebRTC          : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Voice endpoint  : %-19s ║\n", fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printModule(slot, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", slot, value)
}

// asrModel names the model of the selected recognition provider, for the
// startup summary only.
func asrModel(cfg *config.Config) string {
	switch cfg.SelectedModule.ASR {
	case "openai":
		return cfg.ASR.OpenAI.Model
	case "whisper":
		return cfg.ASR.Whisper.Model
	case "whisper-native":
		if cfg.ASR.WhisperNative.ModelPath == "" {
			return ""
		}
		return filepath.Base(cfg.ASR.WhisperNative.ModelPath)
	case "deepgram":
		return cfg.ASR.Deepgram.Model
	}
	return ""
}

func llmModel(cfg *config.Config) string {
	name := cfg.SelectedModule.LLM
	if name == "openai" {
		return cfg.LLM.OpenAI.Model
	}
	if s, ok := cfg.LLM.Backend(name); ok {
		return s.Model
	}
	return ""
}

func ttsModel(cfg *config.Config) string {
	switch cfg.SelectedModule.TTS {
	case "openai":
		return cfg.TTS.OpenAI.Model
	case "edge":
		return cfg.TTS.Edge.Voice
	case "coqui":
		return cfg.TTS.Coqui.Voice
	}
	return ""
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Level()}))
}
