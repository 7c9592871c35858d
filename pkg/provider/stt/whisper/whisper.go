// Package whisper provides whisper.cpp-backed STT providers.
//
// Provider talks to a running whisper-server binary over its REST API
// (POST /inference). NativeProvider links whisper.cpp directly through its
// CGO bindings. Both transcribe complete utterances in one shot, which is
// whisper.cpp's natural mode of operation.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	transcript, err := p.Recognize(ctx, utterancePCM)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language hint forwarded with every inference request
// as a BCP-47 code ("en", "de", "zh"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. The recognition dispatcher
// applies its own context deadline on top; this bounds a single HTTP call.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
// It is stateless between calls and safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements stt.Provider. The utterance is wrapped in a WAV
// container and submitted to the server's /inference endpoint as a multipart
// upload.
func (p *Provider) Recognize(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{Language: p.language}, nil
	}

	body, contentType, err := p.inferenceForm(pcm)
	if err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server answered %s", resp.Status)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: decode response: %w", err)
	}

	return stt.Transcript{
		Text:          strings.TrimSpace(result.Text),
		Language:      p.language,
		AudioDuration: pcmDuration(pcm),
	}, nil
}

// inferenceForm assembles the multipart body for one utterance: the WAV file
// plus the optional language and model hint fields.
func (p *Provider) inferenceForm(pcm []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: build form: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, audio.PipelineFormat)); err != nil {
		return nil, "", fmt.Errorf("whisper: build form: %w", err)
	}

	for _, hint := range []struct{ field, value string }{
		{"language", p.language},
		{"model", p.model},
	} {
		if hint.value == "" {
			continue
		}
		if err := mw.WriteField(hint.field, hint.value); err != nil {
			return nil, "", fmt.Errorf("whisper: set %s hint: %w", hint.field, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: build form: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
