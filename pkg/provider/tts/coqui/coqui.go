// Package coqui synthesises speech through a locally running Coqui TTS
// server.
//
// Two server flavours exist and expose different HTTP APIs, selected with
// WithAPIMode:
//
//   - APIModeStandard (default) talks to the classic TTS server from the
//     ghcr.io/coqui-ai/tts-cpu image: GET /api/tts carries the utterance in
//     query parameters and GET /details describes the loaded model.
//
//   - APIModeXTTS talks to the XTTS v2 API server: POST /tts_to_audio/
//     carries a JSON body and GET /studio_speakers lists the voice
//     catalogue.
//
// Both flavours answer one WAV per request, matching the one-clip-per-call
// Provider contract.
//
// Usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, "Hello there.", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// XTTS v2 API server routes.
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	// Standard server routes.
	apiTTSEndpoint  = "/api/tts"
	detailsEndpoint = "/details"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the classic Coqui TTS server. This is the
	// default.
	APIModeStandard APIMode = "standard"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with every synthesis request
// ("en", "de", ...). The default is "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout bounds each HTTP round trip to the server. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode selects the server flavour. See the package documentation for
// the differences.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider against a Coqui TTS server. It holds no
// per-call state; concurrent Synthesize calls are fine.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider targeting the server at serverURL, for example
// "http://localhost:5002". A trailing slash is stripped.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// xttsPayload is the JSON body for POST /tts_to_audio/.
type xttsPayload struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse mirrors the GET /details answer. Speakers stays nil on
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize implements tts.Provider. One utterance maps to one HTTP round
// trip; the server's WAV answer is decoded into a raw PCM clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Clip, error) {
	if text == "" {
		return tts.Clip{}, nil
	}
	// The XTTS server refuses requests without a speaker. The standard
	// server accepts them for single-speaker models.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return tts.Clip{}, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	req, err := p.synthesisRequest(ctx, text, voice)
	if err != nil {
		return tts.Clip{}, err
	}
	wav, err := p.fetch(req)
	if err != nil {
		return tts.Clip{}, err
	}

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	return tts.Clip{PCM: pcm, Format: format}, nil
}

// synthesisRequest builds the mode-specific HTTP request for one utterance.
func (p *Provider) synthesisRequest(ctx context.Context, text string, voice types.VoiceProfile) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		payload, err := json.Marshal(xttsPayload{
			Text:       text,
			SpeakerWav: voice.ID,
			Language:   p.language,
		})
		if err != nil {
			return nil, fmt.Errorf("coqui: marshal synthesis payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("coqui: build synthesis request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
		return req, nil
	}

	query := url.Values{}
	query.Set("text", text)
	if voice.ID != "" {
		query.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		query.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build synthesis request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// ListVoices reports the voices the configured server can speak with. The
// XTTS catalogue comes from /studio_speakers. The standard server describes
// its loaded model through /details, which yields one voice per speaker on
// multi-speaker models and a single model-named voice otherwise.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		return p.studioVoices(ctx)
	}
	return p.modelVoices(ctx)
}

func (p *Provider) studioVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	// Values carry speaker embeddings and are of no use here; only the keys
	// name voices.
	var catalogue map[string]json.RawMessage
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &catalogue); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return profilesFor(names), nil
}

func (p *Provider) modelVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		return profilesFor(speakers), nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return profilesFor([]string{name}), nil
}

// fetch executes req and hands back the body of a 200 answer.
func (p *Provider) fetch(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s answered %s", req.Method, req.URL.Path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", req.URL.Path, err)
	}
	return body, nil
}

// getJSON fetches path from the server and decodes the JSON answer into out.
func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := p.fetch(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("coqui: decode %s response: %w", path, err)
	}
	return nil
}

func profilesFor(names []string) []types.VoiceProfile {
	profiles := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, types.VoiceProfile{ID: name, Name: name})
	}
	return profiles
}
