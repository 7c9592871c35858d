package session_test

import (
	"context"
	"testing"

	"github.com/MrWong99/parlo/internal/session"
	transportmock "github.com/MrWong99/parlo/internal/transport/mock"
)

// sessionInState walks a fresh session along legal transitions until it
// reaches the requested state.
func sessionInState(t *testing.T, state session.State) *session.Session {
	t.Helper()

	sess := session.New(context.Background(), session.Config{
		DeviceID:  "dev-1",
		Transport: transportmock.NewTransport(),
	})

	path := map[session.State][]session.State{
		session.StateIdle:      {},
		session.StateListening: {session.StateListening},
		session.StateThinking:  {session.StateListening, session.StateThinking},
		session.StateSpeaking:  {session.StateListening, session.StateThinking, session.StateSpeaking},
	}
	for _, next := range path[state] {
		if !sess.Transition(next) {
			t.Fatalf("setup transition to %s failed", next)
		}
	}
	if got := sess.State(); got != state {
		t.Fatalf("setup state = %s, want %s", got, state)
	}
	return sess
}

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from session.State
		to   session.State
		ok   bool
	}{
		{"idle to listening", session.StateIdle, session.StateListening, true},
		{"listening to thinking", session.StateListening, session.StateThinking, true},
		{"listening to idle", session.StateListening, session.StateIdle, true},
		{"thinking to speaking", session.StateThinking, session.StateSpeaking, true},
		{"thinking to idle", session.StateThinking, session.StateIdle, true},
		{"speaking to idle", session.StateSpeaking, session.StateIdle, true},
		{"idle to thinking", session.StateIdle, session.StateThinking, false},
		{"idle to speaking", session.StateIdle, session.StateSpeaking, false},
		{"listening to speaking", session.StateListening, session.StateSpeaking, false},
		{"speaking to listening", session.StateSpeaking, session.StateListening, false},
		{"speaking to thinking", session.StateSpeaking, session.StateThinking, false},
		{"idle to idle", session.StateIdle, session.StateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sess := sessionInState(t, tt.from)
			got := sess.Transition(tt.to)
			if got != tt.ok {
				t.Fatalf("Transition(%s) from %s = %v, want %v", tt.to, tt.from, got, tt.ok)
			}

			want := tt.to
			if !tt.ok {
				// Illegal transitions reset the machine.
				want = session.StateIdle
			}
			if state := sess.State(); state != want {
				t.Errorf("state after transition = %s, want %s", state, want)
			}
		})
	}
}

func TestStateIsValid(t *testing.T) {
	t.Parallel()

	valid := []session.State{
		session.StateIdle, session.StateListening,
		session.StateThinking, session.StateSpeaking,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("State(%q).IsValid() = false, want true", s)
		}
	}
	if session.State("paused").IsValid() {
		t.Error(`State("paused").IsValid() = true, want false`)
	}
}

func TestParseListenMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want session.ListenMode
		ok   bool
	}{
		{"auto", session.ModeAuto, true},
		{"manual", session.ModeManual, true},
		{"wakeword", session.ModeWakeword, true},
		{"realtime", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := session.ParseListenMode(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseListenMode(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseListenMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
