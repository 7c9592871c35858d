// NativeProvider runs whisper.cpp in-process through its CGO bindings.
// Building it needs libwhisper.a and whisper.h reachable via LIBRARY_PATH
// and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parlo/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider on the whisper.cpp Go bindings,
// with no server round trip. One model is loaded at startup and shared by
// every recognition.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "zh"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close frees the loaded model. The provider is unusable afterwards.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Recognize implements stt.Provider. Each call gets a fresh whisper.cpp
// context; contexts are single-threaded but the shared model is not.
//
// Inference runs to completion regardless of ctx: the bindings expose no
// cancellation, so a caller whose deadline expires abandons the result while
// the computation finishes in the background.
func (p *NativeProvider) Recognize(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{Language: p.language}, nil
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: language not accepted, model default applies",
			"language", p.language, "error", err)
	}

	if err := wctx.Process(floatSamples(pcm), nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	text, err := collectSegments(wctx)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{
		Text:          text,
		Language:      p.language,
		AudioDuration: pcmDuration(pcm),
	}, nil
}

// collectSegments drains the decoded segments of a finished inference and
// joins their trimmed text.
func collectSegments(wctx whisperlib.Context) (string, error) {
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return strings.Join(parts, " "), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
}
