package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/parlo/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidModuleNames lists the provider names each selected_module slot
// accepts.
var ValidModuleNames = map[string][]string{
	"ASR": {"openai", "whisper", "whisper-native", "deepgram"},
	"LLM": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"TTS": {"openai", "edge", "coqui"},
	"VAD": {"energy"},
}

// Defaults applied after decode for keys the file leaves unset.
const (
	DefaultServerIP      = "0.0.0.0"
	DefaultServerPort    = 8000
	DefaultWebRTCPort    = 8082
	DefaultSignalingPath = "/ws/signaling"
	DefaultRoleAPIPort   = 8081
	DefaultOpsPort       = 8090
	DefaultRolesFile     = "data/roles.json"

	DefaultVADThreshold  = 0.5
	DefaultMinSilenceMS  = 1000
	DefaultASRTimeoutSec = 10
	DefaultMaxTurns      = 20
	DefaultUtteranceSec  = 60

	DefaultPrompt = "You are a friendly voice assistant. Keep replies short and conversational; they will be spoken aloud."
)

// DefaultSTUNServer is used when webrtc is enabled without stun_servers.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.IP == "" {
		cfg.Server.IP = DefaultServerIP
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.WebRTC.Port == 0 {
		cfg.WebRTC.Port = DefaultWebRTCPort
	}
	if cfg.WebRTC.SignalingPath == "" {
		cfg.WebRTC.SignalingPath = DefaultSignalingPath
	}
	if cfg.WebRTC.Enabled && len(cfg.WebRTC.STUNServers) == 0 {
		cfg.WebRTC.STUNServers = []string{DefaultSTUNServer}
	}

	if cfg.SelectedModule.ASR == "" {
		cfg.SelectedModule.ASR = "openai"
	}
	if cfg.SelectedModule.LLM == "" {
		cfg.SelectedModule.LLM = "openai"
	}
	if cfg.SelectedModule.TTS == "" {
		cfg.SelectedModule.TTS = "edge"
	}
	if cfg.SelectedModule.VAD == "" {
		cfg.SelectedModule.VAD = "energy"
	}

	if cfg.ASR.TimeoutSeconds == 0 {
		cfg.ASR.TimeoutSeconds = DefaultASRTimeoutSec
	}
	if cfg.ASR.OpenAI.Model == "" {
		cfg.ASR.OpenAI.Model = "whisper-1"
	}
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.TTS.OpenAI.Model == "" {
		cfg.TTS.OpenAI.Model = "tts-1"
	}

	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = DefaultVADThreshold
	}
	if cfg.VAD.MinSilenceDurationMS == 0 {
		cfg.VAD.MinSilenceDurationMS = DefaultMinSilenceMS
	}

	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}

	if cfg.RoleAPIPort == 0 {
		cfg.RoleAPIPort = DefaultRoleAPIPort
	}
	if cfg.RolesFile == "" {
		cfg.RolesFile = DefaultRolesFile
	}
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = DefaultOpsPort
	}
	if cfg.History.MaxTurns == 0 {
		cfg.History.MaxTurns = DefaultMaxTurns
	}
	if cfg.Utterance.MaxSeconds == 0 {
		cfg.Utterance.MaxSeconds = DefaultUtteranceSec
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if err := validatePort("server.port", cfg.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("role_api_port", cfg.RoleAPIPort); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("ops.port", cfg.Ops.Port); err != nil {
		errs = append(errs, err)
	}

	if cfg.WebRTC.Enabled {
		if err := validatePort("webrtc.port", cfg.WebRTC.Port); err != nil {
			errs = append(errs, err)
		}
		if !strings.HasPrefix(cfg.WebRTC.SignalingPath, "/") {
			errs = append(errs, fmt.Errorf("webrtc.signaling_path %q must start with /", cfg.WebRTC.SignalingPath))
		}
		for i, turn := range cfg.WebRTC.TURNServers {
			if turn.URL == "" {
				errs = append(errs, fmt.Errorf("webrtc.turn_servers[%d].url is required", i))
			}
		}
	}

	errs = append(errs, validateSelection("ASR", cfg.SelectedModule.ASR)...)
	errs = append(errs, validateSelection("LLM", cfg.SelectedModule.LLM)...)
	errs = append(errs, validateSelection("TTS", cfg.SelectedModule.TTS)...)
	errs = append(errs, validateSelection("VAD", cfg.SelectedModule.VAD)...)

	errs = append(errs, validateFallbacks("ASR", cfg.FallbackModules.ASR)...)
	errs = append(errs, validateFallbacks("LLM", cfg.FallbackModules.LLM)...)
	errs = append(errs, validateFallbacks("TTS", cfg.FallbackModules.TTS)...)

	errs = append(errs, validateASR(cfg)...)
	errs = append(errs, validateLLM(cfg)...)
	errs = append(errs, validateTTS(cfg)...)

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("VAD.threshold %.2f is out of range (0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("VAD.min_silence_duration_ms %d must not be negative", cfg.VAD.MinSilenceDurationMS))
	}
	if cfg.ASR.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("ASR.timeout_seconds %d must not be negative", cfg.ASR.TimeoutSeconds))
	}
	if cfg.History.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("history.max_turns %d must be at least 1", cfg.History.MaxTurns))
	}
	if cfg.Utterance.MaxSeconds < 1 {
		errs = append(errs, fmt.Errorf("utterance.max_seconds %d must be at least 1", cfg.Utterance.MaxSeconds))
	}

	if cfg.EnableStopTTSNotify && cfg.StopTTSNotifyVoice == "" {
		errs = append(errs, errors.New("stop_tts_notify_voice is required when enable_stop_tts_notify is set"))
	}

	if len(cfg.ExitCommands) == 0 {
		slog.Warn("exit_commands is empty; the conversation can only be ended by disconnecting")
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validatePort checks that port is a usable TCP port number.
func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d is out of range [1, 65535]", key, port)
	}
	return nil
}

// validateSelection checks a selected_module entry against the known names
// for its slot.
func validateSelection(slot, name string) []error {
	known := ValidModuleNames[slot]
	if slices.Contains(known, name) {
		return nil
	}
	return []error{fmt.Errorf("selected_module.%s %q is unknown; valid values: %s", slot, name, strings.Join(known, ", "))}
}

// validateFallbacks checks fallback_modules entries against the known names
// for their slot. A fallback provider's settings are checked when the chain
// is built.
func validateFallbacks(slot string, names []string) []error {
	var errs []error
	known := ValidModuleNames[slot]
	for _, name := range names {
		if !slices.Contains(known, name) {
			errs = append(errs, fmt.Errorf("fallback_modules.%s %q is unknown; valid values: %s", slot, name, strings.Join(known, ", ")))
		}
	}
	return errs
}

// validateASR checks that the selected recognition provider has the settings
// it needs.
func validateASR(cfg *Config) []error {
	var errs []error
	switch cfg.SelectedModule.ASR {
	case "openai":
		if cfg.ASR.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("ASR.openai.api_key is required when selected_module.ASR is openai"))
		}
	case "whisper":
		if cfg.ASR.Whisper.URL == "" {
			errs = append(errs, errors.New("ASR.whisper.url is required when selected_module.ASR is whisper"))
		}
	case "whisper-native":
		if cfg.ASR.WhisperNative.ModelPath == "" {
			errs = append(errs, errors.New("ASR.whisper-native.model_path is required when selected_module.ASR is whisper-native"))
		}
	case "deepgram":
		if cfg.ASR.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("ASR.deepgram.api_key is required when selected_module.ASR is deepgram"))
		}
	}
	return errs
}

// validateLLM checks that the selected language model backend has the
// settings it needs.
func validateLLM(cfg *Config) []error {
	name := cfg.SelectedModule.LLM
	if name == "openai" {
		if cfg.LLM.OpenAI.APIKey == "" {
			return []error{errors.New("LLM.openai.api_key is required when selected_module.LLM is openai")}
		}
		return nil
	}

	settings, ok := cfg.LLM.Backend(name)
	if !ok {
		return nil // unknown names are reported by validateSelection
	}
	var errs []error
	if settings.Model == "" {
		errs = append(errs, fmt.Errorf("LLM.%s.model is required when selected_module.LLM is %s", name, name))
	}
	// Local backends authenticate with nothing; hosted ones need a key.
	switch name {
	case "ollama", "llamacpp", "llamafile":
	default:
		if settings.APIKey == "" {
			errs = append(errs, fmt.Errorf("LLM.%s.api_key is required when selected_module.LLM is %s", name, name))
		}
	}
	return errs
}

// validateTTS checks that the selected synthesis provider has the settings
// it needs.
func validateTTS(cfg *Config) []error {
	var errs []error
	switch cfg.SelectedModule.TTS {
	case "openai":
		if cfg.TTS.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("TTS.openai.api_key is required when selected_module.TTS is openai"))
		}
	case "coqui":
		if cfg.TTS.Coqui.URL == "" {
			errs = append(errs, errors.New("TTS.coqui.url is required when selected_module.TTS is coqui"))
		}
		switch cfg.TTS.Coqui.APIMode {
		case "", "standard", "xtts":
		default:
			errs = append(errs, fmt.Errorf("TTS.coqui.api_mode %q is invalid; valid values: standard, xtts", cfg.TTS.Coqui.APIMode))
		}
	}
	return errs
}
