package dialog_test

import (
	"testing"

	"github.com/MrWong99/parlo/internal/dialog"
)

// ─── TestHistory_Order ───────────────────────────────────────────────────────

// TestHistory_Order verifies that messages come back in insertion order with
// the roles they were added under.
func TestHistory_Order(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(10)
	h.AddUser("hi")
	h.AddAssistant("hello")
	h.AddUser("what's the weather like?")

	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("message count: want 3, got %d", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user"}
	wantText := []string{"hi", "hello", "what's the weather like?"}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d role: want %q, got %q", i, wantRoles[i], m.Role)
		}
		if m.Content != wantText[i] {
			t.Errorf("message %d content: want %q, got %q", i, wantText[i], m.Content)
		}
	}
	if h.Len() != 3 {
		t.Errorf("Len: want 3, got %d", h.Len())
	}
}

// ─── TestHistory_Eviction ────────────────────────────────────────────────────

// TestHistory_Eviction verifies that the oldest exchanges fall out once the
// turn limit is exceeded and that the retained window starts with a user
// message.
func TestHistory_Eviction(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(2)
	h.AddUser("turn one")
	h.AddAssistant("reply one")
	h.AddUser("turn two")
	h.AddAssistant("reply two")
	h.AddUser("turn three")
	h.AddAssistant("reply three")

	msgs := h.Messages()
	if len(msgs) != 4 {
		t.Fatalf("message count after eviction: want 4, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "turn two" {
		t.Errorf("oldest retained message: want user %q, got %s %q", "turn two", msgs[0].Role, msgs[0].Content)
	}
	if msgs[3].Content != "reply three" {
		t.Errorf("newest retained message: want %q, got %q", "reply three", msgs[3].Content)
	}
}

// ─── TestHistory_GreetingSurvivesUntilEviction ───────────────────────────────

// TestHistory_GreetingSurvivesUntilEviction verifies that an assistant
// greeting added before any user turn stays in the history while the window
// has room, and that eviction never leaves an assistant message first.
func TestHistory_GreetingSurvivesUntilEviction(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(1)
	h.AddAssistant("Hello, I'm awake!")
	h.AddUser("hi")

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count: want 2, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != "Hello, I'm awake!" {
		t.Errorf("greeting dropped early: got %s %q", msgs[0].Role, msgs[0].Content)
	}

	// One more exchange overflows a one-turn window; the greeting goes and
	// the window must open on the user message.
	h.AddAssistant("hey")

	msgs = h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count after overflow: want 2, got %d", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("window must start with a user message, got %s %q", msgs[0].Role, msgs[0].Content)
	}
}

// ─── TestHistory_DefaultLimit ────────────────────────────────────────────────

// TestHistory_DefaultLimit verifies that a zero turn limit falls back to the
// package default.
func TestHistory_DefaultLimit(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(0)
	for i := 0; i < dialog.DefaultMaxTurns+5; i++ {
		h.AddUser("question")
		h.AddAssistant("answer")
	}
	if want := dialog.DefaultMaxTurns * 2; h.Len() != want {
		t.Errorf("Len with default limit: want %d, got %d", want, h.Len())
	}
}

// ─── TestHistory_Clear ───────────────────────────────────────────────────────

func TestHistory_Clear(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(5)
	h.AddUser("hi")
	h.AddAssistant("hello")
	h.Clear()

	if h.Len() != 0 {
		t.Errorf("Len after Clear: want 0, got %d", h.Len())
	}
	if msgs := h.Messages(); len(msgs) != 0 {
		t.Errorf("Messages after Clear: want empty, got %d entries", len(msgs))
	}
}

// ─── TestHistory_MessagesIsACopy ─────────────────────────────────────────────

// TestHistory_MessagesIsACopy verifies that mutating the returned slice does
// not reach back into the history.
func TestHistory_MessagesIsACopy(t *testing.T) {
	t.Parallel()

	h := dialog.NewHistory(5)
	h.AddUser("original")

	msgs := h.Messages()
	msgs[0].Content = "mutated"

	if got := h.Messages()[0].Content; got != "original" {
		t.Errorf("history was mutated through the returned slice: got %q", got)
	}
}
