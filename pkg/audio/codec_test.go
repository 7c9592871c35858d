package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/parlo/pkg/audio"
)

// sineWave produces the given number of s16le samples of a sine tone at the
// pipeline sample rate.
func sineWave(t *testing.T, freqHz float64, samples int) []byte {
	t.Helper()
	pcm := make([]int16, samples)
	for i := range pcm {
		v := math.Sin(2 * math.Pi * freqHz * float64(i) / float64(audio.SampleRate))
		pcm[i] = int16(v * 16000)
	}
	return pcmBytes(pcm)
}

func TestOpusRoundTrip(t *testing.T) {
	enc, err := audio.NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := audio.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	frame := sineWave(t, 440, audio.FrameSamples)
	packet, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) == 0 || len(packet) >= audio.FrameBytes {
		t.Errorf("packet size %d: expected compressed output below %d bytes", len(packet), audio.FrameBytes)
	}

	pcm, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != audio.FrameBytes {
		t.Errorf("decoded %d bytes, want %d", len(pcm), audio.FrameBytes)
	}
}

func TestEncoderRejectsPartialFrame(t *testing.T) {
	enc, err := audio.NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if _, err := enc.Encode(make([]byte, audio.FrameBytes-2)); err == nil {
		t.Fatal("expected error for partial frame")
	}
}

func TestDecoderSurvivesConsecutivePackets(t *testing.T) {
	enc, err := audio.NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := audio.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	for i := 0; i < 10; i++ {
		packet, err := enc.Encode(sineWave(t, 300+float64(i)*50, audio.FrameSamples))
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		pcm, err := dec.Decode(packet)
		if err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if len(pcm) != audio.FrameBytes {
			t.Fatalf("packet %d: decoded %d bytes, want %d", i, len(pcm), audio.FrameBytes)
		}
	}
}
