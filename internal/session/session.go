// Package session holds the per-client conversation state: the session
// record itself, its state machine, the utterance buffer feeding recognition,
// and the registry that maps device ids to live sessions.
//
// A [Session] is shared between the tasks serving one client (inbound
// dispatcher, recognition, reply generation, play-out). All exported methods
// are safe for concurrent use; the pipeline packages own the logic, this
// package owns the state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parlo/internal/transport"
)

// Config seeds a new [Session].
type Config struct {
	// DeviceID is the stable client identifier from the connect handshake.
	DeviceID string

	// ID fixes the session identifier instead of generating one. The WebRTC
	// transport sets it to the signalling session id so the two connections
	// correlate; empty means a fresh UUID.
	ID string

	// Transport is the client connection the session runs on.
	Transport transport.Transport

	// SystemPrompt is the initial persona instruction, typically the default
	// role's prompt.
	SystemPrompt string

	// VoiceID is the initial synthesis voice, typically the default role's
	// voice.
	VoiceID string

	// MaxUtterance caps the buffered audio span of a single utterance.
	// Zero means [DefaultMaxUtterance].
	MaxUtterance time.Duration
}

// Session is the state of one connected client.
type Session struct {
	// DeviceID is the stable client identifier the session is registered
	// under. Immutable.
	DeviceID string

	// ID is the per-session identifier echoed in outgoing control messages.
	// Immutable; a fresh connection from the same device gets a new one.
	ID string

	// Transport is the client connection. Immutable.
	Transport transport.Transport

	// Utterance buffers the audio chunks of the utterance currently being
	// spoken.
	Utterance *UtteranceBuffer

	ctx    context.Context
	cancel context.CancelCauseFunc

	closeOnce sync.Once
	closeErr  error

	mu              sync.Mutex
	state           State
	mode            ListenMode
	prompt          string
	voice           string
	haveVoice       bool
	voiceStop       bool
	closeAfterReply bool
	ttsFirst        int
	ttsLast         int

	abort   atomic.Bool
	asrBusy atomic.Bool
}

// New creates a session in StateIdle and ModeAuto. The session's context is
// derived from parent and is cancelled by [Session.Close].
func New(parent context.Context, cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Session{
		DeviceID:  cfg.DeviceID,
		ID:        id,
		Transport: cfg.Transport,
		Utterance: NewUtteranceBuffer(cfg.MaxUtterance),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		mode:      ModeAuto,
		prompt:    cfg.SystemPrompt,
		voice:     cfg.VoiceID,
	}
}

// Context returns the session's context. It is done once the session has
// been closed; context.Cause reports why (for example [ErrReplaced]).
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close tears the session down: the context is cancelled with the given
// cause and the transport is closed. Only the first call has effect; later
// calls return the first call's result.
func (s *Session) Close(cause error) error {
	s.closeOnce.Do(func() {
		s.cancel(cause)
		if s.Transport != nil {
			s.closeErr = s.Transport.Close()
		}
	})
	return s.closeErr
}

// ── State machine ────────────────────────────────────────────────────────────

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to the requested state and reports whether
// the move was legal. An illegal transition does not fail the session: it is
// logged and the machine resets to StateIdle.
func (s *Session) Transition(to State) bool {
	s.mu.Lock()
	from := s.state
	ok := from.canEnter(to)
	if ok {
		s.state = to
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if !ok {
		slog.Warn("session: illegal state transition, resetting to idle",
			"device", s.DeviceID, "from", from, "to", to)
	}
	return ok
}

// Reset forces the session back to StateIdle and clears the per-utterance
// flags, the buffered utterance and the reply indices. Used after a reply
// finishes, after barge-in cleanup, and when recovering from an illegal
// transition.
func (s *Session) Reset() {
	s.mu.Lock()
	s.state = StateIdle
	s.haveVoice = false
	s.voiceStop = false
	s.ttsFirst = 0
	s.ttsLast = 0
	s.mu.Unlock()
	s.abort.Store(false)
	if s.Utterance != nil {
		s.Utterance.Clear()
	}
}

// ── Listening flags ──────────────────────────────────────────────────────────

// Mode returns the current listen mode.
func (s *Session) Mode() ListenMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the listen mode. It sticks until the next change.
func (s *Session) SetMode(m ListenMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// HaveVoice reports whether user speech has been observed (or declared by a
// listen start) for the current utterance.
func (s *Session) HaveVoice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveVoice
}

// SetHaveVoice records whether the current utterance contains speech.
func (s *Session) SetHaveVoice(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveVoice = v
}

// VoiceStop reports whether the end of the current utterance has been
// reached, by VAD speech-end or an explicit listen stop.
func (s *Session) VoiceStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceStop
}

// SetVoiceStop records that the current utterance has ended.
func (s *Session) SetVoiceStop(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceStop = v
}

// ── Persona ──────────────────────────────────────────────────────────────────

// SystemPrompt returns the active persona instruction.
func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// SetSystemPrompt replaces the persona instruction, e.g. on a role change.
func (s *Session) SetSystemPrompt(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = p
}

// VoiceID returns the active synthesis voice.
func (s *Session) VoiceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoiceID replaces the synthesis voice. Takes effect from the next
// synthesised segment, so a role-change acknowledgement is already spoken
// with the new voice.
func (s *Session) SetVoiceID(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = v
}

// ── Reply lifecycle ──────────────────────────────────────────────────────────

// CloseAfterReply reports whether the session should close once the current
// reply has been fully played out.
func (s *Session) CloseAfterReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAfterReply
}

// SetCloseAfterReply schedules (or cancels) closing the session after the
// current reply completes. Set by the farewell path.
func (s *Session) SetCloseAfterReply(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAfterReply = v
}

// RequestAbort flags a barge-in: the reply currently being played must stop.
// The pacer observes the flag between frames.
func (s *Session) RequestAbort() {
	s.abort.Store(true)
}

// AbortRequested reports whether a barge-in is pending.
func (s *Session) AbortRequested() bool {
	return s.abort.Load()
}

// ClearAbort resets the barge-in flag once the abort has been honoured.
func (s *Session) ClearAbort() {
	s.abort.Store(false)
}

// TryBeginASR claims the session's single recognition slot. It returns false
// while another dispatch is in flight; the caller must keep buffering audio
// without re-evaluating speech-end.
func (s *Session) TryBeginASR() bool {
	return s.asrBusy.CompareAndSwap(false, true)
}

// EndASR releases the recognition slot.
func (s *Session) EndASR() {
	s.asrBusy.Store(false)
}

// ASRInFlight reports whether a recognition dispatch is currently running.
func (s *Session) ASRInFlight() bool {
	return s.asrBusy.Load()
}

// NoteTTSSegment records a synthesised segment of the current reply. The
// first recorded index marks where play-out starts; the latest marks the
// reply's tail so the pacer knows which segment carries the stop event.
// Indices are 1-based.
func (s *Session) NoteTTSSegment(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttsFirst == 0 {
		s.ttsFirst = index
	}
	s.ttsLast = index
}

// TTSIndices returns the first and latest recorded segment indices of the
// current reply. Both are zero between replies.
func (s *Session) TTSIndices() (first, last int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsFirst, s.ttsLast
}

// ResetTTSIndices clears the reply segment indices on the stop transition.
func (s *Session) ResetTTSIndices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsFirst = 0
	s.ttsLast = 0
}
