package coqui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/types"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// testWAV builds a WAV file holding the given number of 16-bit samples with a
// recognisable ramp pattern.
func testWAV(t *testing.T, samples int, format audio.Format) ([]byte, []byte) {
	t.Helper()
	pcm := make([]byte, samples*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return audio.EncodeWAV(pcm, format), pcm
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want %q", p.serverURL, "http://localhost:5002")
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		_, err := New("")
		if err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
		)
		if p.language != "de" {
			t.Errorf("language = %q, want %q", p.language, "de")
		}
		if p.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, 5*time.Second)
		}
		if p.apiMode != APIModeXTTS {
			t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeXTTS)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_Standard(t *testing.T) {
	wav, wantPCM := testWAV(t, 320, audio.Format{SampleRate: 22050, Channels: 1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, apiTTSEndpoint)
		}
		q := r.URL.Query()
		if got := q.Get("text"); got != "Hello there." {
			t.Errorf("text param = %q, want %q", got, "Hello there.")
		}
		if got := q.Get("speaker_id"); got != "p225" {
			t.Errorf("speaker_id param = %q, want %q", got, "p225")
		}
		if got := q.Get("language_id"); got != "en" {
			t.Errorf("language_id param = %q, want %q", got, "en")
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	clip, err := p.Synthesize(context.Background(), "Hello there.", types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if string(clip.PCM) != string(wantPCM) {
		t.Errorf("clip PCM does not match the WAV payload")
	}
	if clip.Format.SampleRate != 22050 || clip.Format.Channels != 1 {
		t.Errorf("clip format = %v, want 22050Hz/1ch", clip.Format)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	wav, wantPCM := testWAV(t, 160, audio.Format{SampleRate: 24000, Channels: 1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, ttsEndpoint)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var payload xttsPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload.Text != "Guten Tag." {
			t.Errorf("text = %q, want %q", payload.Text, "Guten Tag.")
		}
		if payload.SpeakerWav != "claribel" {
			t.Errorf("speaker_wav = %q, want %q", payload.SpeakerWav, "claribel")
		}
		if payload.Language != "de" {
			t.Errorf("language = %q, want %q", payload.Language, "de")
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("de"))
	clip, err := p.Synthesize(context.Background(), "Guten Tag.", types.VoiceProfile{ID: "claribel"})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if string(clip.PCM) != string(wantPCM) {
		t.Errorf("clip PCM does not match the WAV payload")
	}
	if clip.Format.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", clip.Format.SampleRate)
	}
}

func TestSynthesize_EmptyTextSkipsServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	clip, err := p.Synthesize(context.Background(), "", types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if !clip.Empty() {
		t.Errorf("expected empty clip for empty text")
	}
	if hits.Load() != 0 {
		t.Errorf("server was hit %d times for empty text", hits.Load())
	}
}

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	p := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS))
	_, err := p.Synthesize(context.Background(), "Hello.", types.VoiceProfile{})
	if err == nil {
		t.Fatal("expected error for missing voice ID in XTTS mode")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hello.", types.VoiceProfile{ID: "p225"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSynthesize_BadWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a wav file"))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hello.", types.VoiceProfile{ID: "p225"})
	if err == nil {
		t.Fatal("expected error for malformed WAV response")
	}
}

// ---- ListVoices ----

func TestListVoices_StandardMultiSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detailsEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, detailsEndpoint)
		}
		json.NewEncoder(w).Encode(detailsResponse{
			ModelName: "tts_models/en/vctk/vits",
			Language:  "en",
			Speakers:  []string{"p226", "p225"},
		})
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	// Sorted for deterministic output.
	if voices[0].ID != "p225" || voices[1].ID != "p226" {
		t.Errorf("voices not sorted: %q, %q", voices[0].ID, voices[1].ID)
	}
}

func TestListVoices_StandardSingleSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detailsResponse{
			ModelName: "tts_models/en/ljspeech/tacotron2-DDC",
			Language:  "en",
		})
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: unexpected error: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	if voices[0].ID != "tts_models/en/ljspeech/tacotron2-DDC" {
		t.Errorf("voice ID = %q, want the model name", voices[0].ID)
	}
}

func TestListVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, studioSpeakersEndpoint)
		}
		w.Write([]byte(`{"Claribel Dervla": {}, "Ana Florence": {}}`))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "Ana Florence" {
		t.Errorf("voices not sorted: first is %q", voices[0].Name)
	}
}
