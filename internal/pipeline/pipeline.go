// Package pipeline runs a connected session end to end: inbound audio is
// decoded to pipeline PCM and gated into utterances, utterances are
// transcribed, transcripts drive the dialogue engine, and the reply is paced
// back out over the session's transport. One [Pipeline.Serve] call owns one
// session for the life of its transport.
//
// The serve loop is single-threaded per session. Control messages and audio
// packets are handled in arrival order, and only the recognition/reply path
// leaves the loop, as one goroutine per utterance. State shared with that
// goroutine lives on the session, never on the loop's own stream value.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/parlo/internal/dialog"
	"github.com/MrWong99/parlo/internal/intent"
	"github.com/MrWong99/parlo/internal/observe"
	"github.com/MrWong99/parlo/internal/playout"
	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/internal/transport"
	"github.com/MrWong99/parlo/internal/wake"
	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/stt"
	"github.com/MrWong99/parlo/pkg/provider/vad"
)

const (
	// DefaultASRTimeout bounds one recognition call.
	DefaultASRTimeout = 10 * time.Second

	// DefaultASRConcurrency caps recognition calls running at once across
	// all sessions of one pipeline.
	DefaultASRConcurrency = 8

	// DefaultMinSilence is the hangover of silence that ends an utterance.
	DefaultMinSilence = 1000 * time.Millisecond

	// preRollChunks is how much leading audio survives from before speech
	// was detected, so detection latency does not clip utterance onsets.
	preRollChunks = 10
)

// llmApology is spoken in place of a reply the dialogue engine failed to
// produce.
const llmApology = "Sorry, I'm having trouble thinking right now."

// Config assembles the providers and tuning of the pipeline. One Config
// serves every session.
type Config struct {
	// ASR transcribes utterance PCM. Required.
	ASR stt.Provider

	// ASRName labels the recognition provider in logs and metrics.
	ASRName string

	// ASRTimeout bounds one recognition call. Zero means
	// [DefaultASRTimeout].
	ASRTimeout time.Duration

	// ASRConcurrency caps recognitions in flight across this pipeline's
	// sessions. Zero means [DefaultASRConcurrency].
	ASRConcurrency int64

	// VAD scores PCM windows for speech. Required.
	VAD vad.Engine

	// VADThreshold is the speech probability cutoff handed to the
	// detector. Zero means the detector's default.
	VADThreshold float32

	// MinSilence is the hangover of silence that ends an utterance. Zero
	// means [DefaultMinSilence].
	MinSilence time.Duration

	// Dialog configures the per-session dialogue engine.
	Dialog dialog.Config

	// LLMName labels the dialogue provider in logs and metrics.
	LLMName string

	// Player paces synthesised replies back to the client. Required.
	Player *playout.Player

	// Intents dispatches client-reported tool descriptors and state.
	// May be nil.
	Intents *intent.Registry

	// Wake matches wakeword phrases reported by clients. A nil or empty
	// matcher treats every reported phrase as a spoken query.
	Wake *wake.Matcher

	// Greeting makes a matched wakeword open a model turn instead of a
	// bare acknowledgement.
	Greeting bool

	// Metrics receives pipeline measurements. Nil means the process-wide
	// default set.
	Metrics *observe.Metrics
}

// Pipeline turns connected sessions into conversations. Construct with
// [New]; the zero value is not usable.
type Pipeline struct {
	asr        stt.Provider
	asrName    string
	asrTimeout time.Duration
	asrSem     *semaphore.Weighted

	vadEngine  vad.Engine
	threshold  float32
	minSilence time.Duration

	dialogCfg dialog.Config
	llmName   string
	player    *playout.Player
	intents   *intent.Registry
	wake      *wake.Matcher
	greeting  bool
	metrics   *observe.Metrics
}

// New builds a Pipeline from cfg, applying defaults to zero fields.
func New(cfg Config) *Pipeline {
	if cfg.ASRTimeout <= 0 {
		cfg.ASRTimeout = DefaultASRTimeout
	}
	if cfg.ASRConcurrency <= 0 {
		cfg.ASRConcurrency = DefaultASRConcurrency
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = DefaultMinSilence
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		asr:        cfg.ASR,
		asrName:    cfg.ASRName,
		asrTimeout: cfg.ASRTimeout,
		asrSem:     semaphore.NewWeighted(cfg.ASRConcurrency),
		vadEngine:  cfg.VAD,
		threshold:  cfg.VADThreshold,
		minSilence: cfg.MinSilence,
		dialogCfg:  cfg.Dialog,
		llmName:    cfg.LLMName,
		player:     cfg.Player,
		intents:    cfg.Intents,
		wake:       cfg.Wake,
		greeting:   cfg.Greeting,
		metrics:    cfg.Metrics,
	}
}

// stream is the working state of one Serve call.
type stream struct {
	p    *Pipeline
	sess *session.Session

	dec  *audio.Decoder
	conv audio.Converter
	gate *gate

	dialog *dialog.Engine

	// woken gates wakeword-mode ingest: audio before the first wakeword
	// report is discarded.
	woken bool
}

// Serve runs sess until its transport closes or its context ends. It blocks,
// so callers run it on the connection's goroutine. Serve does not close the
// session; teardown stays with the caller that registered it.
func (p *Pipeline) Serve(sess *session.Session) {
	handle, err := p.vadEngine.NewSession(vad.Config{
		SampleRate: audio.SampleRate,
		Threshold:  p.threshold,
	})
	if err != nil {
		slog.Error("pipeline: voice detector unavailable", "device", sess.DeviceID, "err", err)
		sess.Close(fmt.Errorf("pipeline: new detector session: %w", err))
		return
	}
	defer handle.Close()

	dec, err := audio.NewDecoder()
	if err != nil {
		slog.Error("pipeline: opus decoder unavailable", "device", sess.DeviceID, "err", err)
		sess.Close(fmt.Errorf("pipeline: new opus decoder: %w", err))
		return
	}

	st := &stream{
		p:      p,
		sess:   sess,
		dec:    dec,
		gate:   newGate(handle, p.minSilence),
		dialog: dialog.New(p.dialogCfg),
	}

	ctx := sess.Context()
	p.metrics.ActiveSessions.Add(ctx, 1)
	defer p.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("pipeline: session started",
		"device", sess.DeviceID, "session", sess.ID, "mode", sess.Mode())
	defer slog.Info("pipeline: session ended",
		"device", sess.DeviceID, "session", sess.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-sess.Transport.Inbound():
			if !ok {
				return
			}
			switch in.Kind {
			case transport.KindControl:
				st.handleControl(in.Control)
			case transport.KindAudio:
				st.handleAudio(in.Audio)
			}
		}
	}
}
