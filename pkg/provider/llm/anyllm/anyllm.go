// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It is the default dialogue backend: one config key switches between
// hosted APIs and a local Ollama or llama.cpp instance.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.New("ollama", "qwen2.5:7b")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/types"
)

// backendNames lists the supported backend identifiers. They double as the
// valid values of the llm module selection in the configuration file.
var backendNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for one of the backends in [backendNames], speaking
// to the model named by model (e.g., "gpt-4o-mini", "qwen2.5:7b").
//
// opts are forwarded to the backend constructor (anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Backends read their usual environment variable
// (OPENAI_API_KEY and friends) when no key option is given; the local
// servers run keyless.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	switch {
	case providerName == "":
		return nil, errors.New("anyllm: providerName must not be empty")
	case model == "":
		return nil, errors.New("anyllm: model must not be empty")
	}

	backend, err := newBackend(providerName, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{backend: backend, model: model}, nil
}

// newBackend instantiates the any-llm-go provider matching name.
func newBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	}
	return nil, fmt.Errorf("anyllm: backend %q not supported, pick one of: %s",
		name, strings.Join(backendNames, ", "))
}

// StreamCompletion implements llm.Provider. Tool call fragments spread over
// several deltas are merged positionally and attached to the finishing chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.requestParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		pending := map[int]*types.ToolCall{}

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for i, frag := range choice.Delta.ToolCalls {
				call := pending[i]
				if call == nil {
					call = &types.ToolCall{}
					pending[i] = call
				}
				if frag.ID != "" {
					call.ID = frag.ID
				}
				if frag.Function.Name != "" {
					call.Name = frag.Function.Name
				}
				call.Arguments += frag.Function.Arguments
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" && len(pending) > 0 {
				out.ToolCalls = orderedCalls(pending)
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// orderedCalls flattens accumulated tool call fragments in arrival order.
func orderedCalls(pending map[int]*types.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(pending))
	for i := 0; i < len(pending); i++ {
		if call, ok := pending[i]; ok {
			out = append(out, *call)
		}
	}
	return out
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.requestParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response carried no choices")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capabilitiesFor(p.model)
}

// requestParams converts a CompletionRequest into any-llm CompletionParams.
func (p *Provider) requestParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, wireMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return params
}

// wireMessage converts one history message to the any-llm shape. Roles map
// one to one, so no validation happens here; the backend rejects unknown
// roles itself.
func wireMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capabilitiesFor maps model name families to their limits. The table covers
// families commonly deployed behind this server; unknown models receive
// GPT-4-class defaults.
func capabilitiesFor(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	name := strings.ToLower(model)
	switch {
	// OpenAI GPT families.
	case strings.HasPrefix(name, "gpt-4o-mini"), strings.HasPrefix(name, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(name, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(name, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385

	// Anthropic Claude models.
	case strings.HasPrefix(name, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true

	// Google Gemini models.
	case strings.Contains(name, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.HasPrefix(name, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true

	// Alibaba Qwen, common on openai-compatible gateways and Ollama.
	case strings.HasPrefix(name, "qwen"):
		caps.ContextWindow = 32_768
		caps.MaxOutputTokens = 8_192

	// DeepSeek. R1 exposes no tool calling over the API.
	case strings.HasPrefix(name, "deepseek-r1"):
		caps.ContextWindow = 64_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsToolCalling = false
	case strings.HasPrefix(name, "deepseek"):
		caps.ContextWindow = 64_000
		caps.MaxOutputTokens = 8_192

	// Zhipu GLM.
	case strings.HasPrefix(name, "glm"):
		caps.ContextWindow = 128_000
	}

	return caps
}
