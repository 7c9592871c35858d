package dialog_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parlo/internal/dialog"
	"github.com/MrWong99/parlo/internal/intent"
	"github.com/MrWong99/parlo/pkg/provider/llm"
	llmmock "github.com/MrWong99/parlo/pkg/provider/llm/mock"
	"github.com/MrWong99/parlo/pkg/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// hooksStub stands in for a session in engine tests.
type hooksStub struct {
	prompt     string
	voice      string
	closeAfter bool
}

func (h *hooksStub) SystemPrompt() string      { return h.prompt }
func (h *hooksStub) SetSystemPrompt(p string)  { h.prompt = p }
func (h *hooksStub) VoiceID() string           { return h.voice }
func (h *hooksStub) SetVoiceID(v string)       { h.voice = v }
func (h *hooksStub) SetCloseAfterReply(v bool) { h.closeAfter = v }

// collect reads all segments off a turn until the channel closes.
func collect(t *testing.T, turn *dialog.Turn) []string {
	t.Helper()
	var out []string
	for s := range turn.Segments() {
		out = append(out, s)
	}
	return out
}

func toolRegistry(t *testing.T, fn intent.Function) *intent.Registry {
	t.Helper()
	r := intent.NewRegistry()
	if err := r.Register(fn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

// ─── TestReply_PlainStreaming ────────────────────────────────────────────────

// TestReply_PlainStreaming verifies the ordinary path: streamed chunks come
// out as sentence segments, the full text lands in the history, and the
// request carries the session's system prompt.
func TestReply_PlainStreaming(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hello there! "},
			{Text: "How are you today?", FinishReason: "stop"},
		},
	}
	e := dialog.New(dialog.Config{LLM: p, MinSegmentRunes: 1})
	sess := &hooksStub{prompt: "You are a helpful assistant."}

	turn, err := e.Reply(context.Background(), sess, "hi")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)
	e.Wait()

	wantSegments := []string{"Hello there!", "How are you today?"}
	if len(segments) != len(wantSegments) {
		t.Fatalf("segments: want %q, got %q", wantSegments, segments)
	}
	for i := range wantSegments {
		if segments[i] != wantSegments[i] {
			t.Errorf("segment %d: want %q, got %q", i, wantSegments[i], segments[i])
		}
	}

	if err := turn.Err(); err != nil {
		t.Errorf("turn.Err: unexpected error: %v", err)
	}
	if want := "Hello there! How are you today?"; turn.Text() != want {
		t.Errorf("turn.Text: want %q, got %q", want, turn.Text())
	}

	if len(p.StreamCalls) != 1 {
		t.Fatalf("StreamCompletion calls: want 1, got %d", len(p.StreamCalls))
	}
	req := p.StreamCalls[0].Req
	if req.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("request system prompt: got %q", req.SystemPrompt)
	}
	if len(req.Tools) != 0 {
		t.Errorf("request tools: want none, got %d", len(req.Tools))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "hi" {
		t.Errorf("last request message: want user %q, got %s %q", "hi", last.Role, last.Content)
	}

	msgs := e.History().Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length: want 2, got %d", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello there! How are you today?" {
		t.Errorf("history assistant entry: got %s %q", msgs[1].Role, msgs[1].Content)
	}
}

// ─── TestReply_HistoryCarriesAcrossTurns ─────────────────────────────────────

// TestReply_HistoryCarriesAcrossTurns verifies that the second request
// includes the first exchange.
func TestReply_HistoryCarriesAcrossTurns(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Fine, thanks.", FinishReason: "stop"},
		},
	}
	e := dialog.New(dialog.Config{LLM: p, MinSegmentRunes: 1})
	sess := &hooksStub{}

	turn, err := e.Reply(context.Background(), sess, "how are you?")
	if err != nil {
		t.Fatalf("first Reply: %v", err)
	}
	collect(t, turn)
	e.Wait()

	turn, err = e.Reply(context.Background(), sess, "good to hear")
	if err != nil {
		t.Fatalf("second Reply: %v", err)
	}
	collect(t, turn)
	e.Wait()

	if len(p.StreamCalls) != 2 {
		t.Fatalf("StreamCompletion calls: want 2, got %d", len(p.StreamCalls))
	}
	msgs := p.StreamCalls[1].Req.Messages
	wantRoles := []string{"user", "assistant", "user"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("second request messages: want %d, got %d", len(wantRoles), len(msgs))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role: want %q, got %q", i, want, msgs[i].Role)
		}
	}
	if msgs[1].Content != "Fine, thanks." {
		t.Errorf("carried assistant message: got %q", msgs[1].Content)
	}
}

// ─── TestReply_ToolsOfferedOnlyWhenSupported ─────────────────────────────────

// TestReply_ToolsOfferedOnlyWhenSupported verifies that function definitions
// are attached to the request only when the model reports tool-calling
// support.
func TestReply_ToolsOfferedOnlyWhenSupported(t *testing.T) {
	t.Parallel()

	fn := intent.Function{
		Name:        "change_role",
		Description: "Switches the assistant persona.",
		Handle: func(ctx context.Context, sess intent.SessionHooks, args string) (intent.Result, error) {
			return intent.Result{}, nil
		},
	}

	for _, tc := range []struct {
		name      string
		supports  bool
		wantTools int
	}{
		{"supported", true, 1},
		{"unsupported", false, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &llmmock.Provider{
				StreamChunks:      []llm.Chunk{{Text: "Sure.", FinishReason: "stop"}},
				ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: tc.supports},
			}
			e := dialog.New(dialog.Config{LLM: p, Intents: toolRegistry(t, fn), MinSegmentRunes: 1})

			turn, err := e.Reply(context.Background(), &hooksStub{}, "switch roles")
			if err != nil {
				t.Fatalf("Reply: %v", err)
			}
			collect(t, turn)
			e.Wait()

			tools := p.StreamCalls[0].Req.Tools
			if len(tools) != tc.wantTools {
				t.Fatalf("request tools: want %d, got %d", tc.wantTools, len(tools))
			}
			if tc.wantTools > 0 && tools[0].Name != "change_role" {
				t.Errorf("tool name: want %q, got %q", "change_role", tools[0].Name)
			}
		})
	}
}

// ─── TestReply_FunctionCall ──────────────────────────────────────────────────

// TestReply_FunctionCall verifies that a model-issued function call is
// dispatched through the registry and its textual result is spoken.
func TestReply_FunctionCall(t *testing.T) {
	t.Parallel()

	var gotArgs string
	fn := intent.Function{
		Name:        "set_timer",
		Description: "Sets a kitchen timer.",
		Handle: func(ctx context.Context, sess intent.SessionHooks, args string) (intent.Result, error) {
			gotArgs = args
			return intent.Result{Reply: "Timer set for five minutes."}, nil
		},
	}
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{
				ToolCalls:    []types.ToolCall{{ID: "call-1", Name: "set_timer", Arguments: `{"minutes":5}`}},
				FinishReason: "tool_calls",
			},
		},
		ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: true},
	}
	e := dialog.New(dialog.Config{LLM: p, Intents: toolRegistry(t, fn), MinSegmentRunes: 1})

	turn, err := e.Reply(context.Background(), &hooksStub{}, "set a timer for five minutes")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)
	e.Wait()

	if gotArgs != `{"minutes":5}` {
		t.Errorf("handler args: want %q, got %q", `{"minutes":5}`, gotArgs)
	}
	if len(segments) != 1 || segments[0] != "Timer set for five minutes." {
		t.Errorf("segments: want the function result, got %q", segments)
	}
	if err := turn.Err(); err != nil {
		t.Errorf("turn.Err: unexpected error: %v", err)
	}

	msgs := e.History().Messages()
	if len(msgs) != 2 || msgs[1].Content != "Timer set for five minutes." {
		t.Errorf("history after function call: got %+v", msgs)
	}
}

// ─── TestReply_FunctionCallFailure ───────────────────────────────────────────

// TestReply_FunctionCallFailure verifies that a failing function produces a
// spoken fallback instead of a turn error.
func TestReply_FunctionCallFailure(t *testing.T) {
	t.Parallel()

	fn := intent.Function{
		Name:        "set_timer",
		Description: "Sets a kitchen timer.",
		Handle: func(ctx context.Context, sess intent.SessionHooks, args string) (intent.Result, error) {
			return intent.Result{}, errors.New("no timers available")
		},
	}
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{
				ToolCalls:    []types.ToolCall{{ID: "call-1", Name: "set_timer", Arguments: "{}"}},
				FinishReason: "tool_calls",
			},
		},
		ModelCapabilities: types.ModelCapabilities{SupportsToolCalling: true},
	}
	e := dialog.New(dialog.Config{LLM: p, Intents: toolRegistry(t, fn), MinSegmentRunes: 1})

	turn, err := e.Reply(context.Background(), &hooksStub{}, "set a timer")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)
	e.Wait()

	if len(segments) != 1 {
		t.Fatalf("segments: want 1 fallback, got %q", segments)
	}
	if !strings.Contains(segments[0], "Sorry") {
		t.Errorf("fallback segment: got %q", segments[0])
	}
	if err := turn.Err(); err != nil {
		t.Errorf("turn.Err: function failure must not fail the turn, got %v", err)
	}
}

// ─── TestReply_HookClaimsTurn ────────────────────────────────────────────────

// TestReply_HookClaimsTurn verifies that a transcript hook can answer the
// turn without the model ever being called.
func TestReply_HookClaimsTurn(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	r := intent.NewRegistry()
	r.RegisterHook(func(ctx context.Context, sess intent.SessionHooks, text string) (intent.Result, bool, error) {
		if text == "goodbye" {
			sess.SetCloseAfterReply(true)
			return intent.Result{Reply: "Bye then!"}, true, nil
		}
		return intent.Result{}, false, nil
	})
	e := dialog.New(dialog.Config{LLM: p, Intents: r})
	sess := &hooksStub{}

	turn, err := e.Reply(context.Background(), sess, "goodbye")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)

	if len(p.StreamCalls) != 0 {
		t.Errorf("model must not be called on a claimed turn, got %d calls", len(p.StreamCalls))
	}
	if len(segments) != 1 || segments[0] != "Bye then!" {
		t.Errorf("segments: want the hook reply, got %q", segments)
	}
	if !sess.closeAfter {
		t.Error("hook session mutation was lost")
	}

	msgs := e.History().Messages()
	if len(msgs) != 2 || msgs[0].Content != "goodbye" || msgs[1].Content != "Bye then!" {
		t.Errorf("history after claimed turn: got %+v", msgs)
	}
}

// ─── TestReply_StreamStartError ──────────────────────────────────────────────

// TestReply_StreamStartError verifies that a provider failure before the
// stream opens is returned directly and leaves no trace in the history.
func TestReply_StreamStartError(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamErr: errors.New("provider down")}
	e := dialog.New(dialog.Config{LLM: p})

	if _, err := e.Reply(context.Background(), &hooksStub{}, "hi"); err == nil {
		t.Fatal("Reply: want error, got nil")
	}
	if n := e.History().Len(); n != 0 {
		t.Errorf("history after failed start: want empty, got %d messages", n)
	}
}

// ─── TestReply_StreamErrorChunk ──────────────────────────────────────────────

// TestReply_StreamErrorChunk verifies that a mid-stream failure surfaces via
// Err after the already-spoken part was delivered, and that the history
// remembers only what was spoken.
func TestReply_StreamErrorChunk(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Let me look that up. "},
			{Text: "rate limited", FinishReason: "error"},
		},
	}
	e := dialog.New(dialog.Config{LLM: p, MinSegmentRunes: 1})

	turn, err := e.Reply(context.Background(), &hooksStub{}, "question")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)
	e.Wait()

	if len(segments) != 1 || segments[0] != "Let me look that up." {
		t.Errorf("segments before failure: got %q", segments)
	}
	if err := turn.Err(); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("turn.Err: want the provider failure, got %v", err)
	}

	msgs := e.History().Messages()
	if len(msgs) != 2 || msgs[1].Content != "Let me look that up." {
		t.Errorf("history after failed stream: got %+v", msgs)
	}
}

// ─── TestReply_EmptyReplyLeavesNoAssistantEntry ──────────────────────────────

func TestReply_EmptyReplyLeavesNoAssistantEntry(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{FinishReason: "stop"}},
	}
	e := dialog.New(dialog.Config{LLM: p})

	turn, err := e.Reply(context.Background(), &hooksStub{}, "hi")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if segments := collect(t, turn); len(segments) != 0 {
		t.Errorf("segments: want none, got %q", segments)
	}
	e.Wait()

	msgs := e.History().Messages()
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("history: want only the user message, got %+v", msgs)
	}
}

// ─── TestReply_EmotionFromEmoji ──────────────────────────────────────────────

// TestReply_EmotionFromEmoji verifies that emoji drive the turn's emotion
// but never reach the spoken segments.
func TestReply_EmotionFromEmoji(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "That's wonderful! 😊", FinishReason: "stop"}},
	}
	e := dialog.New(dialog.Config{LLM: p, MinSegmentRunes: 1})

	turn, err := e.Reply(context.Background(), &hooksStub{}, "I passed my exam")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	segments := collect(t, turn)
	e.Wait()

	if len(segments) != 1 || segments[0] != "That's wonderful!" {
		t.Errorf("segments: want emoji-free text, got %q", segments)
	}
	if got := turn.Emotion(); got != "happy" {
		t.Errorf("turn.Emotion: want %q, got %q", "happy", got)
	}
	if !strings.Contains(turn.Text(), "😊") {
		t.Errorf("turn.Text must keep the emoji, got %q", turn.Text())
	}
}

// ─── TestReply_CancelStopsStream ─────────────────────────────────────────────

// TestReply_CancelStopsStream verifies that cancelling the turn context
// closes the segment channel promptly and keeps the spoken prefix in the
// history.
func TestReply_CancelStopsStream(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "One. "},
			{Text: "Two. "},
			{Text: "Three.", FinishReason: "stop"},
		},
		ChunkDelay: 5 * time.Millisecond,
	}
	e := dialog.New(dialog.Config{LLM: p, MinSegmentRunes: 1})

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := e.Reply(ctx, &hooksStub{}, "count")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	// Take the first segment, then barge in.
	first, ok := <-turn.Segments()
	if !ok {
		t.Fatal("segment channel closed before the first segment")
	}
	if first != "One." {
		t.Errorf("first segment: want %q, got %q", "One.", first)
	}
	cancel()

	collect(t, turn)
	e.Wait()

	if err := turn.Err(); err != nil {
		t.Errorf("turn.Err: cancellation is not a failure, got %v", err)
	}
	if !strings.HasPrefix(turn.Text(), "One.") {
		t.Errorf("turn.Text: want the spoken prefix, got %q", turn.Text())
	}
}
