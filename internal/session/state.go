package session

// State is the position of a session in its conversation cycle. Component
// actions gate on the state machine rather than on each other: the VAD gate
// only opens utterances from Idle, recognition only runs out of Listening,
// and the pacer only plays out of Thinking or Speaking.
type State string

const (
	// StateIdle means no utterance or reply is in progress.
	StateIdle State = "idle"

	// StateListening means an utterance is being buffered.
	StateListening State = "listening"

	// StateThinking means a transcript is with the dialogue engine and no
	// audio has been played back yet.
	StateThinking State = "thinking"

	// StateSpeaking means reply frames are being paced to the client.
	StateSpeaking State = "speaking"
)

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateListening, StateThinking, StateSpeaking:
		return true
	}
	return false
}

// transitions lists the legal successor states of each state.
//
//	Idle      → Listening            first speech, or listen start
//	Listening → Thinking             utterance produced a transcript
//	Listening → Idle                 empty transcript
//	Thinking  → Speaking             first reply frames begin playing
//	Thinking  → Idle                 empty or aborted reply
//	Speaking  → Idle                 reply finished or barge-in
var transitions = map[State][]State{
	StateIdle:      {StateListening},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateIdle},
	StateSpeaking:  {StateIdle},
}

// canEnter reports whether the machine may move from s to next.
func (s State) canEnter(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ListenMode selects how the end of a user utterance is derived.
type ListenMode string

const (
	// ModeAuto derives utterance boundaries from voice activity detection.
	ModeAuto ListenMode = "auto"

	// ModeManual is push-to-talk: the client brackets speech with listen
	// start/stop messages and speech-end detection is bypassed.
	ModeManual ListenMode = "manual"

	// ModeWakeword waits for an on-device wakeword report before treating
	// audio as user speech; afterwards it behaves like ModeAuto.
	ModeWakeword ListenMode = "wakeword"
)

// IsValid reports whether m is one of the defined modes.
func (m ListenMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeManual, ModeWakeword:
		return true
	}
	return false
}

// ParseListenMode converts a wire-level mode string into a ListenMode.
func ParseListenMode(s string) (ListenMode, bool) {
	m := ListenMode(s)
	return m, m.IsValid()
}
