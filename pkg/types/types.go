// Package types holds the data structures shared between the provider
// interfaces and the dialogue layer. Each provider package defines its own
// domain types; only the cross-cutting ones live here, keeping the import
// graph acyclic.
package types

// Message is one entry in a conversation history, in the shape chat
// completion APIs expect.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content carries the message text.
	Content string

	// Name optionally identifies the participant.
	Name string

	// ToolCalls lists the invocations an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" message back to the call it answers.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID is assigned by the provider and echoed back in the tool result.
	ID string

	// Name of the function to invoke.
	Name string

	// Arguments holds the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition advertises a callable function to the model.
type ToolDefinition struct {
	Name string

	// Description tells the model when to pick this tool.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// VoiceProfile selects and shapes a synthesis voice. Providers honour the
// prosody fields on a best-effort basis; a provider without pitch or rate
// control ignores them.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// PitchShift adjusts pitch (-10 to +10; 0 keeps the voice as is).
	PitchShift float64

	// SpeedFactor scales the speaking rate (0.5 to 2.0; 0 means the
	// provider default of 1.0).
	SpeedFactor float64
}

// ModelCapabilities reports the limits of a configured model so callers can
// budget history and enable features accordingly.
type ModelCapabilities struct {
	// ContextWindow is the combined input and output token limit.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
