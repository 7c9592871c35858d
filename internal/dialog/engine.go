// Package dialog turns user transcripts into assistant replies.
//
// One Engine serves one session. A reply flows through three gates in order:
// transcript hooks (exit phrases, plugin intents) that may claim the whole
// turn, then the language model, in function-calling mode when the model
// supports it and intents are registered. Streamed reply text is cut into
// sentence-sized segments so synthesis can begin before the model finishes.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/parlo/internal/intent"
	"github.com/MrWong99/parlo/pkg/provider/llm"
	"github.com/MrWong99/parlo/pkg/types"
)

// segmentBuf is the buffer depth of a turn's segment channel. Sized to
// absorb several sentences without blocking the model stream while the
// first one is being synthesized.
const segmentBuf = 16

// toolFailureReply is spoken when a model-requested function fails.
const toolFailureReply = "Sorry, I couldn't do that."

// Config configures an Engine.
type Config struct {
	// LLM generates replies. Required.
	LLM llm.Provider

	// Intents supplies transcript hooks and callable functions. May be nil.
	Intents *intent.Registry

	// MaxTurns bounds the conversation history.
	MaxTurns int

	// MinSegmentRunes is the shortest segment synthesized on its own.
	MinSegmentRunes int

	// Temperature and MaxTokens are passed through to the model. Zero means
	// the provider default.
	Temperature float64
	MaxTokens   int
}

// Engine produces the assistant's side of one session's conversation. Safe
// for concurrent use, though a session runs one reply at a time.
type Engine struct {
	llm        llm.Provider
	intents    *intent.Registry
	history    *History
	minSegment int
	temp       float64
	maxTokens  int

	// wg tracks reply goroutines so tests can synchronise with stream end.
	wg sync.WaitGroup
}

// New creates the dialogue engine for a session.
func New(cfg Config) *Engine {
	return &Engine{
		llm:        cfg.LLM,
		intents:    cfg.Intents,
		history:    NewHistory(cfg.MaxTurns),
		minSegment: cfg.MinSegmentRunes,
		temp:       cfg.Temperature,
		maxTokens:  cfg.MaxTokens,
	}
}

// History exposes the conversation memory, mainly for tests and the
// greeting path.
func (e *Engine) History() *History {
	return e.history
}

// Wait blocks until all reply goroutines have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Turn is one in-flight assistant reply. Segments arrive on [Turn.Segments]
// as the model produces them; the channel closes when the reply is complete.
// Text, Emotion and Err are meaningful once the channel has closed.
type Turn struct {
	segments chan string

	mu   sync.Mutex
	text strings.Builder
	err  error
}

func newTurn() *Turn {
	return &Turn{segments: make(chan string, segmentBuf)}
}

// Segments delivers the reply as sentence-sized pieces, emoji stripped.
func (t *Turn) Segments() <-chan string {
	return t.segments
}

// Text returns the full reply text accumulated so far, emoji included.
func (t *Turn) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Emotion returns the display emotion derived from the reply's emoji.
func (t *Turn) Emotion() string {
	return detectEmotion(t.Text())
}

// Err returns the first mid-stream failure, or nil.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) append(s string) {
	t.mu.Lock()
	t.text.WriteString(s)
	t.mu.Unlock()
}

func (t *Turn) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

// emit delivers one segment, giving up when the consumer is gone.
func (t *Turn) emit(ctx context.Context, segment string) bool {
	select {
	case t.segments <- segment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reply runs one user turn. The error return covers failures before the
// stream starts; anything later surfaces through [Turn.Err] after the
// segment channel closes. The transcript joins the history immediately; the
// assistant text joins it when the stream ends, so a barged-in reply is
// remembered as far as it was spoken.
func (e *Engine) Reply(ctx context.Context, sess intent.SessionHooks, transcript string) (*Turn, error) {
	if e.intents != nil {
		res, claimed, err := e.intents.RunHooks(ctx, sess, transcript)
		if err != nil {
			return nil, fmt.Errorf("dialog: transcript hooks: %w", err)
		}
		if claimed {
			e.history.AddUser(transcript)
			if res.Reply != "" {
				e.history.AddAssistant(res.Reply)
			}
			return immediateTurn(res.Reply), nil
		}
	}

	req := e.buildRequest(sess, transcript)
	ch, err := e.llm.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dialog: start completion: %w", err)
	}

	e.history.AddUser(transcript)

	t := newTurn()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, sess, ch, t)
	}()
	return t, nil
}

// immediateTurn wraps an already-known reply, such as a claimed hook's.
func immediateTurn(reply string) *Turn {
	t := newTurn()
	t.append(reply)
	if clean := strings.TrimSpace(stripEmoji(reply)); clean != "" {
		t.segments <- clean
	}
	close(t.segments)
	return t
}

// buildRequest assembles the completion request for one turn. Tools are
// offered only when the model supports calling them.
func (e *Engine) buildRequest(sess intent.SessionHooks, transcript string) llm.CompletionRequest {
	msgs := append(e.history.Messages(), types.Message{Role: "user", Content: transcript})
	req := llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: sess.SystemPrompt(),
		Temperature:  e.temp,
		MaxTokens:    e.maxTokens,
	}
	if e.intents != nil && e.llm.Capabilities().SupportsToolCalling {
		req.Tools = e.intents.Definitions()
	}
	return req
}

// run consumes the model stream, forwarding completed segments to the turn.
func (e *Engine) run(ctx context.Context, sess intent.SessionHooks, ch <-chan llm.Chunk, t *Turn) {
	defer func() {
		if text := strings.TrimSpace(t.Text()); text != "" {
			e.history.AddAssistant(text)
		}
		close(t.segments)
	}()

	seg := NewSegmenter(e.minSegment)
	var toolCalls []types.ToolCall

	flush := func() {
		if rest := seg.Flush(); rest != "" {
			t.emit(ctx, rest)
		}
	}

	for {
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return

		case chunk, ok := <-ch:
			if !ok {
				// Stream closed without a finish chunk.
				flush()
				return
			}

			if chunk.Text != "" && chunk.FinishReason != "error" {
				t.append(chunk.Text)
				for _, s := range seg.Feed(stripEmoji(chunk.Text)) {
					if !t.emit(ctx, s) {
						go drainChunks(ch)
						return
					}
				}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}

			switch chunk.FinishReason {
			case "":
				continue
			case "error":
				t.setErr(fmt.Errorf("dialog: completion failed: %s", chunk.Text))
				go drainChunks(ch)
				return
			case "tool_calls":
				flush()
				e.executeToolCalls(ctx, sess, toolCalls, t)
				go drainChunks(ch)
				return
			default: // "stop", "length"
				flush()
				go drainChunks(ch)
				return
			}
		}
	}
}

// executeToolCalls dispatches model-requested functions in order and speaks
// each textual result.
func (e *Engine) executeToolCalls(ctx context.Context, sess intent.SessionHooks, calls []types.ToolCall, t *Turn) {
	if e.intents == nil {
		slog.Warn("dialog: model requested tools but no registry is configured", "calls", len(calls))
		return
	}
	for _, call := range calls {
		res, err := e.intents.Call(ctx, sess, call.Name, call.Arguments)
		if err != nil {
			slog.Error("dialog: function call failed", "function", call.Name, "error", err)
			t.append(toolFailureReply)
			t.emit(ctx, toolFailureReply)
			continue
		}
		if res.Reply == "" {
			continue
		}
		t.append(res.Reply)
		if clean := strings.TrimSpace(stripEmoji(res.Reply)); clean != "" {
			if !t.emit(ctx, clean) {
				return
			}
		}
	}
}

// drainChunks discards the rest of an abandoned stream so the provider's
// goroutine can finish.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
