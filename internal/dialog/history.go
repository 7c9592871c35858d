package dialog

import (
	"sync"

	"github.com/MrWong99/parlo/pkg/types"
)

// DefaultMaxTurns bounds the conversation history when no limit is
// configured.
const DefaultMaxTurns = 20

// History is the bounded conversation memory of one session. It holds only
// user and assistant messages; the system prompt lives on the session, where
// role switches can replace it, and is injected per request. Eviction is
// FIFO by whole turns so the window always starts at a user message.
type History struct {
	mu       sync.Mutex
	messages []types.Message
	maxTurns int
}

// NewHistory creates a history bounded to maxTurns user/assistant exchanges.
// Zero or negative means [DefaultMaxTurns].
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{maxTurns: maxTurns}
}

// AddUser appends a user message.
func (h *History) AddUser(text string) {
	h.add(types.Message{Role: "user", Content: text})
}

// AddAssistant appends an assistant message.
func (h *History) AddAssistant(text string) {
	h.add(types.Message{Role: "assistant", Content: text})
}

func (h *History) add(m types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	h.evict()
}

// evict drops the oldest messages until at most maxTurns exchanges remain,
// then trims any leading assistant message so the window starts with the
// user. Must be called with h.mu held.
func (h *History) evict() {
	limit := h.maxTurns * 2
	if len(h.messages) <= limit {
		return
	}
	h.messages = append(h.messages[:0:0], h.messages[len(h.messages)-limit:]...)
	for len(h.messages) > 0 && h.messages[0].Role == "assistant" {
		h.messages = h.messages[1:]
	}
}

// Messages returns a copy of the retained conversation.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Clear drops the whole conversation.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
