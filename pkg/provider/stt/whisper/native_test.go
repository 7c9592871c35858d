package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/parlo/pkg/provider/stt/whisper"
)

// nativeModel returns the model file for CGO-backed tests, taken from the
// WHISPER_MODEL_PATH environment variable. Without one the test is skipped,
// so the suite stays runnable on machines without whisper.cpp.
func nativeModel(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("WHISPER_MODEL_PATH"); p != "" {
		return p
	}
	t.Skip("WHISPER_MODEL_PATH not set")
	return ""
}

func TestNewNative_RejectsEmptyPath(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("NewNative(\"\") returned no error")
	}
}

func TestNewNative_RejectsMissingModel(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("NewNative with a missing model file returned no error")
	}
}

func TestNativeRecognize_EmptyUtterance(t *testing.T) {
	p, err := whisper.NewNative(nativeModel(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	transcript, err := p.Recognize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if transcript.Text != "" {
		t.Errorf("empty utterance transcribed to %q", transcript.Text)
	}
}
