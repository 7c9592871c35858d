// Package openai provides a TTS provider backed by the OpenAI speech API.
// It implements the tts.Provider interface.
//
// Synthesis requests WAV output and decodes it into a tts.Clip, so callers
// see PCM regardless of the model's native container. The voice catalogue is
// fixed by the API; ListVoices returns the documented set.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const defaultVoice = "alloy"

// voiceCatalogue is the fixed voice set of the speech endpoint.
var voiceCatalogue = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "onyx", "nova", "sage", "shimmer",
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use it to target an
// OpenAI-compatible gateway that exposes the speech endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI TTS Provider. model is the speech model to use
// (e.g., "tts-1", "gpt-4o-mini-tts").
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Synthesize implements tts.Provider. The speech API has no pitch control, so
// voice.PitchShift is ignored; voice.SpeedFactor maps to the speed parameter.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Clip, error) {
	if text == "" {
		return tts.Clip{}, nil
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = defaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if voice.SpeedFactor != 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: read speech response: %w", err)
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: decode speech response: %w", err)
	}
	return tts.Clip{PCM: pcm, Format: format}, nil
}

// ListVoices implements tts.Provider. The endpoint has no voice-listing API,
// so the documented catalogue is returned as-is.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(voiceCatalogue))
	for _, name := range voiceCatalogue {
		profiles = append(profiles, types.VoiceProfile{ID: name, Name: name})
	}
	return profiles, nil
}
