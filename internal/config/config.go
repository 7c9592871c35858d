// Package config provides the configuration schema, loader, and provider
// registry for the parlo voice assistant server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parlo/internal/mcp"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the corresponding slog level. Unrecognised values map
// to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Configuration is read once at startup; there is no hot reload.
type Config struct {
	Server ServerConfig `yaml:"server"`
	WebRTC WebRTCConfig `yaml:"webrtc"`

	// SelectedModule picks one provider per pipeline stage. The chosen names
	// index into the ASR, LLM and TTS tables below.
	SelectedModule ModuleSelection `yaml:"selected_module"`

	// FallbackModules lists additional providers per stage, tried in order
	// when the selected provider keeps failing. Each named provider reads its
	// own sub-table, exactly like a selected one. Empty slots run without a
	// fallback chain.
	FallbackModules FallbackSelection `yaml:"fallback_modules"`

	ASR ASRConfig `yaml:"ASR"`
	LLM LLMConfig `yaml:"LLM"`
	TTS TTSConfig `yaml:"TTS"`
	VAD VADConfig `yaml:"VAD"`

	// Prompt is the system prompt used until a role with its own prompt is
	// selected.
	Prompt string `yaml:"prompt"`

	// ExitCommands are spoken phrases that end the conversation.
	ExitCommands []string `yaml:"exit_commands"`

	// WakeupWords are the phrases clients report via listen detect. A
	// detected wakeup word alone does not start a dialogue turn unless
	// greeting is enabled.
	WakeupWords []string `yaml:"wakeup_words"`

	// EnableGreeting makes the assistant answer a bare wakeup word with a
	// spoken greeting. Defaults to true; see [Config.GreetingEnabled].
	EnableGreeting *bool `yaml:"enable_greeting"`

	// EnableStopTTSNotify plays a short notification sound after each
	// completed reply.
	EnableStopTTSNotify bool `yaml:"enable_stop_tts_notify"`

	// StopTTSNotifyVoice is the path of the WAV file played when
	// EnableStopTTSNotify is set.
	StopTTSNotifyVoice string `yaml:"stop_tts_notify_voice"`

	// RoleAPIPort is the TCP port of the role management HTTP API.
	RoleAPIPort int `yaml:"role_api_port"`

	// RolesFile is the path of the persisted role table.
	RolesFile string `yaml:"roles_file"`

	Ops       OpsConfig       `yaml:"ops"`
	History   HistoryConfig   `yaml:"history"`
	Utterance UtteranceConfig `yaml:"utterance"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// GreetingEnabled reports whether a detected wakeup word should be answered
// with a greeting. Unset means enabled.
func (c *Config) GreetingEnabled() bool {
	return c.EnableGreeting == nil || *c.EnableGreeting
}

// ServerConfig holds network and logging settings for the main audio
// transport server.
type ServerConfig struct {
	// IP is the address the WebSocket server binds to (e.g. "0.0.0.0").
	IP string `yaml:"ip"`

	// Port is the TCP port of the WebSocket server.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// WebRTCConfig enables and configures the WebRTC transport and its
// signalling server.
type WebRTCConfig struct {
	// Enabled turns the WebRTC transport on. When false the signalling
	// server is not started and the remaining fields are ignored.
	Enabled bool `yaml:"enabled"`

	// Port is the TCP port of the signalling WebSocket server.
	Port int `yaml:"port"`

	// SignalingPath is the URL path of the signalling endpoint.
	SignalingPath string `yaml:"signaling_path"`

	// STUNServers lists STUN server URLs (e.g. "stun:stun.l.google.com:19302").
	STUNServers []string `yaml:"stun_servers"`

	// TURNServers lists TURN relays with credentials.
	TURNServers []TURNServerConfig `yaml:"turn_servers"`
}

// TURNServerConfig describes a single TURN relay.
type TURNServerConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Credential string `yaml:"credential"`
}

// ModuleSelection names the provider to use for each pipeline stage.
type ModuleSelection struct {
	ASR string `yaml:"ASR"`
	LLM string `yaml:"LLM"`
	TTS string `yaml:"TTS"`
	VAD string `yaml:"VAD"`
}

// FallbackSelection names optional fallback providers per pipeline stage.
// Voice activity detection runs in-process and needs none.
type FallbackSelection struct {
	ASR []string `yaml:"ASR"`
	LLM []string `yaml:"LLM"`
	TTS []string `yaml:"TTS"`
}

// ASRConfig holds speech recognition settings. Exactly one of the provider
// sub-tables is active, chosen by selected_module.ASR.
type ASRConfig struct {
	// TimeoutSeconds bounds a single recognition call. A timed-out call
	// yields an empty transcript.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	OpenAI        OpenAIASRSettings     `yaml:"openai"`
	Whisper       WhisperServerSettings `yaml:"whisper"`
	WhisperNative WhisperNativeSettings `yaml:"whisper-native"`
	Deepgram      DeepgramSettings      `yaml:"deepgram"`
}

// Timeout returns TimeoutSeconds as a duration.
func (a ASRConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// OpenAIASRSettings configures the OpenAI transcription API.
type OpenAIASRSettings struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
}

// WhisperServerSettings configures a whisper.cpp HTTP server.
type WhisperServerSettings struct {
	URL      string `yaml:"url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// WhisperNativeSettings configures in-process whisper.cpp inference.
type WhisperNativeSettings struct {
	// ModelPath is the path of a ggml model file.
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

// DeepgramSettings configures the Deepgram transcription API.
type DeepgramSettings struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Endpoint string `yaml:"endpoint"`
}

// LLMConfig holds language model settings, one sub-table per backend. The
// active backend is chosen by selected_module.LLM.
type LLMConfig struct {
	OpenAI    OpenAILLMSettings  `yaml:"openai"`
	Anthropic LLMBackendSettings `yaml:"anthropic"`
	Gemini    LLMBackendSettings `yaml:"gemini"`
	Ollama    LLMBackendSettings `yaml:"ollama"`
	DeepSeek  LLMBackendSettings `yaml:"deepseek"`
	Mistral   LLMBackendSettings `yaml:"mistral"`
	Groq      LLMBackendSettings `yaml:"groq"`
	LlamaCpp  LLMBackendSettings `yaml:"llamacpp"`
	LlamaFile LLMBackendSettings `yaml:"llamafile"`
}

// Backend returns the settings table for the named backend. The second
// return value is false for names that have no table (including "openai",
// which has its own richer settings type).
func (l LLMConfig) Backend(name string) (LLMBackendSettings, bool) {
	switch name {
	case "anthropic":
		return l.Anthropic, true
	case "gemini":
		return l.Gemini, true
	case "ollama":
		return l.Ollama, true
	case "deepseek":
		return l.DeepSeek, true
	case "mistral":
		return l.Mistral, true
	case "groq":
		return l.Groq, true
	case "llamacpp":
		return l.LlamaCpp, true
	case "llamafile":
		return l.LlamaFile, true
	}
	return LLMBackendSettings{}, false
}

// OpenAILLMSettings configures the OpenAI chat API.
type OpenAILLMSettings struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
}

// LLMBackendSettings is the common configuration block for non-OpenAI
// language model backends.
type LLMBackendSettings struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// TTSConfig holds speech synthesis settings. The active provider is chosen
// by selected_module.TTS.
type TTSConfig struct {
	OpenAI OpenAITTSSettings `yaml:"openai"`
	Edge   EdgeTTSSettings   `yaml:"edge"`
	Coqui  CoquiTTSSettings  `yaml:"coqui"`
}

// OpenAITTSSettings configures the OpenAI speech API.
type OpenAITTSSettings struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Voice is the default voice id, used when the current role does not
	// name one.
	Voice string `yaml:"voice"`
}

// EdgeTTSSettings configures the Edge read-aloud service.
type EdgeTTSSettings struct {
	// Voice is the default voice short name (e.g. "en-US-AriaNeural").
	Voice string `yaml:"voice"`

	// Language sets the xml:lang attribute of synthesis requests.
	Language string `yaml:"language"`

	// OutputFormat selects the raw PCM stream format.
	OutputFormat string `yaml:"output_format"`
}

// CoquiTTSSettings configures a Coqui TTS server.
type CoquiTTSSettings struct {
	URL      string `yaml:"url"`
	Language string `yaml:"language"`

	// APIMode is "standard" for the classic server API or "xtts" for the
	// XTTS v2 API.
	APIMode string `yaml:"api_mode"`

	// Voice is the default speaker id.
	Voice string `yaml:"voice"`
}

// VADConfig holds voice activity detection settings. They apply to whichever
// engine selected_module.VAD names.
type VADConfig struct {
	// Threshold is the speech probability above which a window counts as
	// voiced, in (0, 1].
	Threshold float64 `yaml:"threshold"`

	// MinSilenceDurationMS is how long the signal must stay unvoiced after
	// speech before the utterance is considered finished.
	MinSilenceDurationMS int `yaml:"min_silence_duration_ms"`
}

// MinSilence returns MinSilenceDurationMS as a duration.
func (v VADConfig) MinSilence() time.Duration {
	return time.Duration(v.MinSilenceDurationMS) * time.Millisecond
}

// OpsConfig configures the operational HTTP server (health and metrics).
type OpsConfig struct {
	// Port is the TCP port serving /healthz, /readyz and /metrics.
	Port int `yaml:"port"`
}

// HistoryConfig bounds the dialogue history kept per session.
type HistoryConfig struct {
	// MaxTurns is the number of user/assistant exchanges retained. The
	// system prompt is always kept in addition.
	MaxTurns int `yaml:"max_turns"`
}

// UtteranceConfig bounds a single buffered utterance.
type UtteranceConfig struct {
	// MaxSeconds caps utterance length; a buffer that reaches the cap is
	// dispatched to recognition even while speech continues.
	MaxSeconds int `yaml:"max_seconds"`
}

// Max returns MaxSeconds as a duration.
func (u UtteranceConfig) Max() time.Duration {
	return time.Duration(u.MaxSeconds) * time.Second
}

// MCPConfig holds the list of Model Context Protocol servers whose tools are
// offered to the language model next to the builtin intents.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http"
	// (e.g., "https://mcp.example.com/mcp"). Ignored for stdio transport.
	URL string `yaml:"url"`

	// Auth configures authentication for streamable-http servers.
	// Ignored for stdio transport (use Env for credential injection instead).
	// When nil, requests are sent without authentication.
	Auth *MCPAuthConfig `yaml:"auth"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// MCPAuthConfig configures authentication for HTTP-based MCP servers,
// following the MCP authorization specification (OAuth 2.1 Bearer tokens).
type MCPAuthConfig struct {
	// Token is a static Bearer token sent in the Authorization header of every
	// request. Mutually exclusive with the OAuth fields below.
	Token string `yaml:"token"`

	// OAuth configures OAuth 2.1 client-credentials flow for obtaining tokens
	// dynamically. When set, Token is ignored.
	OAuth *MCPOAuthConfig `yaml:"oauth"`
}

// MCPOAuthConfig configures the OAuth 2.1 client-credentials flow for
// obtaining Bearer tokens from an authorization server.
type MCPOAuthConfig struct {
	// ClientID is the OAuth 2.1 client identifier.
	ClientID string `yaml:"client_id"`

	// ClientSecret is the OAuth 2.1 client secret.
	ClientSecret string `yaml:"client_secret"`

	// TokenURL is the authorization server's token endpoint
	// (e.g., "https://auth.example.com/oauth/token").
	TokenURL string `yaml:"token_url"`

	// Scopes lists the OAuth scopes to request. May be empty.
	Scopes []string `yaml:"scopes"`
}
