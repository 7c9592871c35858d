package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parlo/pkg/provider/tts/mock"
	"github.com/MrWong99/parlo/pkg/types"
)

func TestTTSFallback_UsesPrimary(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	primary := &ttsmock.Provider{Clips: []tts.Clip{{PCM: pcm, Format: audio.PipelineFormat}}}
	backup := &ttsmock.Provider{}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("backup", backup)

	voice := types.VoiceProfile{ID: "v1", Name: "Alice"}
	clip, err := f.Synthesize(context.Background(), "Hello.", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Fatalf("clip = %v, want the primary's", clip.PCM)
	}
	if len(primary.SynthesizeCalls) != 1 || primary.SynthesizeCalls[0].Voice.ID != "v1" {
		t.Fatalf("primary calls = %+v, want one with the requested voice", primary.SynthesizeCalls)
	}
	if len(backup.SynthesizeCalls) != 0 {
		t.Fatal("backup was called although the primary synthesised")
	}
}

func TestTTSFallback_FailsOver(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errBackend}
	backup := &ttsmock.Provider{Clips: []tts.Clip{{PCM: []byte{9}, Format: audio.PipelineFormat}}}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("backup", backup)

	clip, err := f.Synthesize(context.Background(), "Hello.", types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(clip.PCM, []byte{9}) {
		t.Fatalf("clip = %v, want the backup's", clip.PCM)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errBackend}

	f := NewTTSFallback("primary", primary, FallbackConfig{})

	_, err := f.Synthesize(context.Background(), "Hello.", types.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the cause", err)
	}
}

func TestTTSFallback_ListVoicesFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errBackend}
	backup := &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{
		{ID: "v1", Name: "Alice"},
		{ID: "v2", Name: "Bob"},
	}}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("backup", backup)

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "v1" {
		t.Fatalf("voices = %+v, want the backup's catalogue", voices)
	}
}
