package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/stt/whisper"
)

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. It increments *callCount on
// every matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func TestNew_EmptyURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty server URL, got nil")
	}
}

func TestRecognize_ReturnsTranscript(t *testing.T) {
	srv := newMockServer(t, "  hello world \n", nil)
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := make([]byte, audio.FrameBytes*50) // 1 s of silence-valued PCM
	transcript, err := p.Recognize(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if transcript.Text != "hello world" {
		t.Errorf("text: got %q, want %q", transcript.Text, "hello world")
	}
	if transcript.AudioDuration != time.Second {
		t.Errorf("audio duration: got %v, want %v", transcript.AudioDuration, time.Second)
	}
}

func TestRecognize_EmptyUtterance_SkipsServer(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "should not be called", &calls)
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	transcript, err := p.Recognize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if transcript.Text != "" {
		t.Errorf("expected empty transcript, got %q", transcript.Text)
	}
	if calls.Load() != 0 {
		t.Errorf("server was called %d times for an empty utterance", calls.Load())
	}
}

func TestRecognize_UploadsWAVWithHints(t *testing.T) {
	var gotContentType string
	var gotLanguage string
	var gotWAVHeader []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotWAVHeader = make([]byte, 12)
		_, _ = io.ReadFull(f, gotWAVHeader)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Recognize(context.Background(), make([]byte, audio.FrameBytes)); err != nil {
		t.Fatalf("Recognize: %v", err)
	}

	mediaType, _, err := mime.ParseMediaType(gotContentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Errorf("content type: got %q, want multipart/form-data", gotContentType)
	}
	if gotLanguage != "de" {
		t.Errorf("language field: got %q, want %q", gotLanguage, "de")
	}
	if string(gotWAVHeader[0:4]) != "RIFF" || string(gotWAVHeader[8:12]) != "WAVE" {
		t.Errorf("uploaded file is not a WAV container: % x", gotWAVHeader)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Recognize(context.Background(), make([]byte, audio.FrameBytes)); err == nil {
		t.Fatal("expected error for HTTP 500 response")
	}
}

func TestRecognize_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Recognize(ctx, make([]byte, audio.FrameBytes)); err == nil {
		t.Fatal("expected error when context deadline expires")
	}
}
