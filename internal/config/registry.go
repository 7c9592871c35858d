package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/provider/stt"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the selected provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. Factories receive the full config and read their own
// provider sub-table from it. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(*Config) (stt.Provider, error)
	llm map[string]func(*Config) (llm.Provider, error)
	tts map[string]func(*Config) (tts.Provider, error)
	vad map[string]func(*Config) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(*Config) (stt.Provider, error)),
		llm: make(map[string]func(*Config) (llm.Provider, error)),
		tts: make(map[string]func(*Config) (tts.Provider, error)),
		vad: make(map[string]func(*Config) (vad.Engine, error)),
	}
}

// RegisterASR registers a recognition provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(*Config) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(*Config) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(*Config) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a voice activity detection engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(*Config) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateASR instantiates the recognition provider selected_module.ASR names.
// Returns [ErrProviderNotRegistered] if no factory is registered under that
// name.
func (r *Registry) CreateASR(cfg *Config) (stt.Provider, error) {
	return r.CreateASRNamed(cfg, cfg.SelectedModule.ASR)
}

// CreateASRNamed instantiates the recognition provider registered under name,
// regardless of the configured selection. Fallback chains are built this way.
func (r *Registry) CreateASRNamed(cfg *Config, name string) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.asr[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ASR/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateLLM instantiates the language model selected_module.LLM names.
func (r *Registry) CreateLLM(cfg *Config) (llm.Provider, error) {
	return r.CreateLLMNamed(cfg, cfg.SelectedModule.LLM)
}

// CreateLLMNamed instantiates the language model registered under name.
func (r *Registry) CreateLLMNamed(cfg *Config, name string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: LLM/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateTTS instantiates the synthesis provider selected_module.TTS names.
func (r *Registry) CreateTTS(cfg *Config) (tts.Provider, error) {
	return r.CreateTTSNamed(cfg, cfg.SelectedModule.TTS)
}

// CreateTTSNamed instantiates the synthesis provider registered under name.
func (r *Registry) CreateTTSNamed(cfg *Config, name string) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: TTS/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateVAD instantiates the detection engine selected_module.VAD names.
func (r *Registry) CreateVAD(cfg *Config) (vad.Engine, error) {
	name := cfg.SelectedModule.VAD
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: VAD/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
