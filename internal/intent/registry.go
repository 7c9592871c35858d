// Package intent routes recognised user intents to in-process handlers.
//
// The registry is populated once at startup with builtin functions (role
// switching, exit handling) and any functions contributed by connected MCP
// servers. It is consumed two ways: text hooks run against a transcript
// before the LLM sees it and may claim the whole turn, and [Registry.Definitions]
// feeds the same functions to the LLM as tool schemas in function-calling
// mode, with returned tool calls dispatched through [Registry.Call].
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parlo/pkg/types"
)

// ErrUnknownFunction is returned by [Registry.Call] when no function with
// the requested name is registered.
var ErrUnknownFunction = errors.New("unknown intent function")

// SessionHooks is the slice of session state an intent handler may touch.
// *session.Session satisfies it.
type SessionHooks interface {
	SystemPrompt() string
	SetSystemPrompt(p string)
	VoiceID() string
	SetVoiceID(v string)
	SetCloseAfterReply(v bool)
}

// Result is the outcome of a handled intent.
type Result struct {
	// Reply is the text spoken back to the user. It is synthesized with the
	// session's current voice, so handlers that switch the voice hear the
	// new one immediately.
	Reply string
}

// Function is one callable intent.
type Function struct {
	// Name identifies the function to the LLM and to [Registry.Call].
	Name string

	// Description explains the function in the LLM-facing schema.
	Description string

	// Parameters is the JSON Schema for the function's arguments.
	Parameters map[string]any

	// Handle executes the function. args is a JSON object string as produced
	// by the LLM ("{}" when the function takes no arguments).
	Handle func(ctx context.Context, sess SessionHooks, args string) (Result, error)
}

// Hook inspects a transcript before the LLM sees it. A hook that claims the
// turn returns true together with the reply to speak; the LLM is skipped.
type Hook func(ctx context.Context, sess SessionHooks, text string) (Result, bool, error)

// IoTHook inspects device capability descriptors and state updates from iot
// control messages. A hook that recognises the payload returns true.
type IoTHook func(ctx context.Context, sess SessionHooks, descriptors, states json.RawMessage) (bool, error)

// Registry holds the intent functions and hooks for the process. Populate it
// during startup; afterwards it is read-only and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
	order []string
	hooks []Hook
	iot   []IoTHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Function)}
}

// Register adds fn to the registry. A function with the same name is
// replaced.
func (r *Registry) Register(fn Function) error {
	if fn.Name == "" {
		return fmt.Errorf("intent: function must have a non-empty name")
	}
	if fn.Handle == nil {
		return fmt.Errorf("intent: function %q must have a non-nil handler", fn.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[fn.Name]; !exists {
		r.order = append(r.order, fn.Name)
	}
	r.funcs[fn.Name] = fn
	return nil
}

// Definitions returns the LLM-facing schemas of all registered functions in
// registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		fn := r.funcs[name]
		defs = append(defs, types.ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return defs
}

// Call dispatches a tool call returned by the LLM to the matching function.
func (r *Registry) Call(ctx context.Context, sess SessionHooks, name, args string) (Result, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("intent: call %q: %w", name, ErrUnknownFunction)
	}
	res, err := fn.Handle(ctx, sess, args)
	if err != nil {
		return Result{}, fmt.Errorf("intent: %s: %w", name, err)
	}
	return res, nil
}

// RegisterHook appends a transcript hook. Hooks run in registration order.
func (r *Registry) RegisterHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// RunHooks offers the transcript to each hook in order. The first hook to
// claim the turn wins; its result is returned with claimed = true. A hook
// error stops the chain.
func (r *Registry) RunHooks(ctx context.Context, sess SessionHooks, text string) (Result, bool, error) {
	r.mu.RLock()
	hooks := r.hooks
	r.mu.RUnlock()

	for _, h := range hooks {
		res, claimed, err := h(ctx, sess, text)
		if err != nil {
			return Result{}, false, fmt.Errorf("intent: transcript hook: %w", err)
		}
		if claimed {
			return res, true, nil
		}
	}
	return Result{}, false, nil
}

// RegisterIoTHook appends a device payload hook.
func (r *Registry) RegisterIoTHook(h IoTHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iot = append(r.iot, h)
}

// DispatchIoT offers an iot control payload to each hook in order. Payloads
// no hook recognises are logged and dropped.
func (r *Registry) DispatchIoT(ctx context.Context, sess SessionHooks, descriptors, states json.RawMessage) error {
	r.mu.RLock()
	hooks := r.iot
	r.mu.RUnlock()

	for _, h := range hooks {
		handled, err := h(ctx, sess, descriptors, states)
		if err != nil {
			return fmt.Errorf("intent: iot hook: %w", err)
		}
		if handled {
			return nil
		}
	}
	slog.Debug("intent: unhandled iot payload dropped",
		"descriptor_bytes", len(descriptors), "state_bytes", len(states))
	return nil
}
