// Package playout turns reply segments into paced Opus audio on the client
// transport.
//
// Two cooperating tasks serve one reply: the synthesiser consumes sentence
// segments from the dialogue engine, renders each through the TTS provider
// and queues the encoded frames; the pacer drains the queue, brackets every
// segment with sentence_start/sentence_end control messages and sends frames
// at the 20 ms wall-clock cadence the devices play at. A client abort stops
// the reply between two frames, drains whatever is queued and acknowledges
// with a tts stop.
package playout

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/provider/tts"
)

const (
	// segmentQueueDepth bounds how far synthesis may run ahead of play-out.
	segmentQueueDepth = 8

	// synthRetries is the attempt budget per segment. Provider failures are
	// typically fast and transient, so attempts run back to back.
	synthRetries = 5

	// primeFrames is how many frames are sent back to back at segment start
	// to fill the client's jitter buffer.
	primeFrames = 5

	// maxFrameSleep caps a single pacing sleep so a clock jump cannot stall
	// the reply.
	maxFrameSleep = 100 * time.Millisecond
)

// apologyText is spoken once per reply when a segment exhausts its synthesis
// attempts.
const apologyText = "Sorry, I'm having trouble speaking right now."

// Outcome reports how a reply ended.
type Outcome int

const (
	// OutcomeCompleted means every segment was played to the end.
	OutcomeCompleted Outcome = iota

	// OutcomeBargedIn means the client aborted the reply while it was being
	// spoken.
	OutcomeBargedIn
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeBargedIn:
		return "barged_in"
	default:
		return "unknown"
	}
}

// Config configures a [Player].
type Config struct {
	// TTS renders segment text to speech. Required.
	TTS tts.Provider

	// TTSName is the provider name recorded on synthesis error metrics.
	TTSName string

	// Transport names the transport flavour on frame metrics, "ws" or
	// "webrtc".
	Transport string

	// Metrics receives pacing and synthesis telemetry. Nil means
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// StopNotify is a pre-encoded notification sound paced out after each
	// completed reply. Nil disables the notification.
	StopNotify [][]byte
}

// Player plays replies for sessions. One Player serves all sessions of a
// transport server; it is safe for concurrent use as long as each session
// runs at most one Play at a time.
type Player struct {
	tts        tts.Provider
	ttsName    string
	transport  string
	metrics    *observe.Metrics
	stopNotify [][]byte
}

// NewPlayer creates a Player.
func NewPlayer(cfg Config) *Player {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Player{
		tts:        cfg.TTS,
		ttsName:    cfg.TTSName,
		transport:  cfg.Transport,
		metrics:    m,
		stopNotify: cfg.StopNotify,
	}
}

// Play runs one reply end to end: synthesis of every segment and paced
// play-out over the session's transport. It blocks until the reply has fully
// played, the client barged in, or ctx ended, and leaves the session reset
// to idle.
//
// ctx must be the reply-scoped context shared with the dialogue stream
// feeding segments, and the caller must cancel it once Play returns so an
// abandoned stream unblocks. The returned error reports transport or
// context failures; the Outcome is only meaningful when the error is nil.
func (p *Player) Play(ctx context.Context, sess *session.Session, segments <-chan string) (Outcome, error) {
	// Barge-in must stop synthesis without killing the reply context, which
	// the stop acknowledgement still goes out on.
	synthCtx, cancelSynth := context.WithCancel(ctx)
	defer cancelSynth()

	queue := make(chan pacedSegment, segmentQueueDepth)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.synthesize(synthCtx, sess, segments, queue)
	}()

	outcome, err := p.pace(ctx, cancelSynth, sess, queue)
	cancelSynth()
	wg.Wait()
	return outcome, err
}
