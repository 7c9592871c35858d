package pipeline

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/MrWong99/parlo/pkg/provider/vad"
)

// gateEvent is a speech boundary derived from detector output.
type gateEvent int

const (
	// eventSpeechStart fires on the first speech window after silence.
	eventSpeechStart gateEvent = iota

	// eventSpeechEnd fires once the silence hangover after speech elapses.
	eventSpeechEnd
)

// String returns the event name used in logs.
func (ev gateEvent) String() string {
	switch ev {
	case eventSpeechStart:
		return "speech_start"
	case eventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// windowBytes is one detector window as s16le PCM.
const windowBytes = vad.DefaultWindowSamples * 2

// gate folds the continuous PCM stream of a session into speech start/end
// events. PCM accumulates until a full detector window is available; each
// window is scored and the scores drive a two-state machine with a silence
// hangover, so pauses shorter than the hangover stay inside the utterance.
//
// The gate is owned by the session's serve goroutine and is not safe for
// concurrent use.
type gate struct {
	vad        vad.SessionHandle
	minSilence time.Duration

	buf        []byte    // partial window carried to the next feed
	window     []float32 // scratch, one detector window
	speaking   bool
	lastSpeech time.Time
}

func newGate(handle vad.SessionHandle, minSilence time.Duration) *gate {
	if minSilence <= 0 {
		minSilence = DefaultMinSilence
	}
	return &gate{
		vad:        handle,
		minSilence: minSilence,
		window:     make([]float32, vad.DefaultWindowSamples),
	}
}

// feed scores the next slice of pipeline PCM and returns the speech
// boundaries it produced, in order. now is the arrival time of the slice and
// anchors the silence hangover. A window the detector rejects is skipped;
// the windows after it are still consumed on the next feed.
func (g *gate) feed(pcm []byte, now time.Time) ([]gateEvent, error) {
	g.buf = append(g.buf, pcm...)

	var events []gateEvent
	off := 0
	for len(g.buf)-off >= windowBytes {
		raw := g.buf[off : off+windowBytes]
		off += windowBytes
		for i := range g.window {
			g.window[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
		}

		res, err := g.vad.Detect(g.window)
		if err != nil {
			g.buf = append(g.buf[:0], g.buf[off:]...)
			return events, fmt.Errorf("detect window: %w", err)
		}

		switch {
		case res.Speech && !g.speaking:
			g.speaking = true
			g.lastSpeech = now
			events = append(events, eventSpeechStart)
		case res.Speech:
			g.lastSpeech = now
		case g.speaking && now.Sub(g.lastSpeech) >= g.minSilence:
			g.speaking = false
			events = append(events, eventSpeechEnd)
		}
	}
	g.buf = append(g.buf[:0], g.buf[off:]...)
	return events, nil
}

// reset returns the gate to silence and drops buffered PCM. Detector state
// carries across windows, so the detector session is reset with it.
func (g *gate) reset() {
	g.buf = g.buf[:0]
	g.speaking = false
	g.lastSpeech = time.Time{}
	g.vad.Reset()
}
