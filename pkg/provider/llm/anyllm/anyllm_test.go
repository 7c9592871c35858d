package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("empty backend name accepted")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New("watson", "some-model")
	if err == nil {
		t.Fatal("unknown backend accepted")
	}
	// The message should help an operator fix their config file.
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error does not list the valid backends: %v", err)
	}
}

func TestNew_LocalBackendNeedsNoKey(t *testing.T) {
	p, err := New("ollama", "qwen2.5:7b")
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if p.model != "qwen2.5:7b" {
		t.Errorf("model = %q", p.model)
	}
}

func TestNew_OpenAIWithKey(t *testing.T) {
	if _, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")); err != nil {
		t.Fatalf("New(openai) with key: %v", err)
	}
}

func TestNew_OpenAIWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("openai backend built without any API key")
	}
}

func TestWireMessage_Passthrough(t *testing.T) {
	msg := wireMessage(types.Message{
		Role:       "tool",
		Content:    "sunny, 22 degrees",
		Name:       "assistant_weather",
		ToolCallID: "call_9",
	})
	if msg.Role != "tool" || msg.ContentString() != "sunny, 22 degrees" {
		t.Errorf("role/content = %q/%q", msg.Role, msg.ContentString())
	}
	if msg.Name != "assistant_weather" || msg.ToolCallID != "call_9" {
		t.Errorf("name/toolCallID = %q/%q", msg.Name, msg.ToolCallID)
	}
	if msg.ToolCalls != nil {
		t.Errorf("tool calls appeared from nowhere: %+v", msg.ToolCalls)
	}
}

func TestWireMessage_ToolCalls(t *testing.T) {
	msg := wireMessage(types.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "change_role", Arguments: `{"role":"pirate"}`},
			{ID: "call_2", Name: "end_conversation", Arguments: `{}`},
		},
	})
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("converted %d tool calls, want 2", len(msg.ToolCalls))
	}
	first := msg.ToolCalls[0]
	if first.Type != "function" {
		t.Errorf("tool call type = %q, want function", first.Type)
	}
	if first.ID != "call_1" || first.Function.Name != "change_role" {
		t.Errorf("tool call = %s/%s", first.ID, first.Function.Name)
	}
	if first.Function.Arguments != `{"role":"pirate"}` {
		t.Errorf("arguments = %s", first.Function.Arguments)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		model         string
		contextWindow int
		maxOutput     int
		tools         bool
		vision        bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"gpt-4o", 128_000, 16_384, true, true},
		{"gpt-4", 8_192, 4_096, true, false},
		{"gpt-3.5-turbo", 16_385, 4_096, true, false},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true, true},
		{"qwen2.5:7b", 32_768, 8_192, true, false},
		{"deepseek-r1:8b", 64_000, 8_192, false, false},
		{"deepseek-chat", 64_000, 8_192, true, false},
		{"glm-4-plus", 128_000, 4_096, true, false},
		{"totally-unknown", 128_000, 4_096, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := capabilitiesFor(tt.model)
			if caps.ContextWindow != tt.contextWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.contextWindow)
			}
			if caps.MaxOutputTokens != tt.maxOutput {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOutput)
			}
			if caps.SupportsToolCalling != tt.tools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.tools)
			}
			if caps.SupportsVision != tt.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tt.vision)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming must hold for every family")
			}
		})
	}
}

func TestCapabilitiesFor_CaseInsensitive(t *testing.T) {
	if caps := capabilitiesFor("Qwen2.5:14B"); caps.ContextWindow != 32_768 {
		t.Errorf("upper-case model missed its family: ContextWindow = %d", caps.ContextWindow)
	}
}

func TestCapabilities_UsesConfiguredModel(t *testing.T) {
	p := &Provider{model: "deepseek-r1:8b"}
	if caps := p.Capabilities(); caps.SupportsToolCalling {
		t.Error("capabilities ignored the configured model")
	}
}

func TestRequestParams_Assembly(t *testing.T) {
	p := &Provider{model: "qwen2.5:7b"}
	params := p.requestParams(llm.CompletionRequest{
		SystemPrompt: "Answer briefly.",
		Messages: []types.Message{
			{Role: "user", Content: "Hi"},
		},
		Tools: []types.ToolDefinition{
			{Name: "change_role", Parameters: map[string]any{"type": "object"}},
		},
		Temperature: 0.3,
		MaxTokens:   128,
	})

	if params.Model != "qwen2.5:7b" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("assembled %d messages, want system + user", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "change_role" {
		t.Errorf("tools = %+v", params.Tools)
	}
}

func TestRequestParams_ZeroValuesStayUnset(t *testing.T) {
	p := &Provider{model: "qwen2.5:7b"}
	params := p.requestParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "Hi"}},
	})
	if params.Temperature != nil {
		t.Errorf("zero temperature should stay unset, got %v", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("zero max tokens should stay unset, got %v", *params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("empty system prompt still produced a message, got %d", len(params.Messages))
	}
}

func TestOrderedCalls(t *testing.T) {
	calls := orderedCalls(map[int]*types.ToolCall{
		1: {Name: "second"},
		0: {Name: "first"},
	})
	if len(calls) != 2 || calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("flattened calls = %+v", calls)
	}
}
