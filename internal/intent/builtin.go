package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/parlo/internal/role"
	"github.com/MrWong99/parlo/internal/wake"
)

// DefaultFarewell is spoken when an exit intent fires without its own
// goodbye text.
const DefaultFarewell = "Goodbye! Talk to you soon."

// assistantNamePlaceholder in a role prompt is replaced with the role's name
// when the role is adopted.
const assistantNamePlaceholder = "{{assistant_name}}"

// RoleFinder looks personas up by spoken name. *role.Store satisfies it.
type RoleFinder interface {
	ByName(name string) (role.Role, bool)
}

type changeRoleArgs struct {
	RoleName string `json:"role_name"`
}

// ChangeRole returns the builtin function that switches the session's
// persona. The acknowledgement reply is spoken after the voice switch, so
// the user hears the new voice confirm the change.
func ChangeRole(roles RoleFinder) Function {
	return Function{
		Name:        "change_role",
		Description: "Switch the assistant to a different persona by name. Use when the user asks to talk to someone else or to change the assistant's character.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"role_name": map[string]any{
					"type":        "string",
					"description": "Name of the persona to switch to, as the user said it.",
				},
			},
			"required": []string{"role_name"},
		},
		Handle: func(_ context.Context, sess SessionHooks, args string) (Result, error) {
			var a changeRoleArgs
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return Result{}, fmt.Errorf("parse arguments: %w", err)
			}
			if strings.TrimSpace(a.RoleName) == "" {
				return Result{}, fmt.Errorf("role_name must not be empty")
			}

			r, ok := roles.ByName(a.RoleName)
			if !ok {
				return Result{Reply: fmt.Sprintf("I don't know anyone called %s, sorry.", a.RoleName)}, nil
			}

			AdoptRole(sess, r)
			slog.Info("intent: role switched", "role", r.Name, "voice", r.Voice)
			return Result{Reply: fmt.Sprintf("Hi, %s here. What can I do for you?", r.Name)}, nil
		},
	}
}

// RolePrompt renders r's system prompt with the assistant-name placeholder
// substituted. New sessions seed their prompt from the default role this way.
func RolePrompt(r role.Role) string {
	return strings.ReplaceAll(r.Prompt, assistantNamePlaceholder, r.Name)
}

// AdoptRole applies a persona to the session: the prompt (with the
// assistant-name placeholder substituted) and the voice.
func AdoptRole(sess SessionHooks, r role.Role) {
	sess.SetSystemPrompt(RolePrompt(r))
	if r.Voice != "" {
		sess.SetVoiceID(r.Voice)
	}
}

type exitArgs struct {
	Goodbye string `json:"goodbye,omitempty"`
}

// ExitIntent returns the builtin function that ends the conversation. The
// session closes after the farewell finishes playing. farewell may be empty,
// in which case [DefaultFarewell] is used.
func ExitIntent(farewell string) Function {
	if farewell == "" {
		farewell = DefaultFarewell
	}
	return Function{
		Name:        "handle_exit_intent",
		Description: "End the conversation. Use when the user says goodbye or clearly wants to stop talking.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"goodbye": map[string]any{
					"type":        "string",
					"description": "Optional farewell to speak instead of the default.",
				},
			},
		},
		Handle: func(_ context.Context, sess SessionHooks, args string) (Result, error) {
			var a exitArgs
			if args != "" {
				// Malformed args still end the conversation, just with the
				// default farewell.
				_ = json.Unmarshal([]byte(args), &a)
			}
			sess.SetCloseAfterReply(true)
			reply := farewell
			if strings.TrimSpace(a.Goodbye) != "" {
				reply = a.Goodbye
			}
			return Result{Reply: reply}, nil
		},
	}
}

// ExitPhrases returns a transcript hook that claims utterances matching a
// configured exit command and ends the session with a farewell. A nil or
// empty matcher never claims.
func ExitPhrases(m *wake.Matcher, farewell string) Hook {
	if farewell == "" {
		farewell = DefaultFarewell
	}
	return func(_ context.Context, sess SessionHooks, text string) (Result, bool, error) {
		if m == nil || m.Empty() {
			return Result{}, false, nil
		}
		phrase, score, ok := m.Match(text)
		if !ok {
			return Result{}, false, nil
		}
		slog.Info("intent: exit phrase matched", "phrase", phrase, "score", score)
		sess.SetCloseAfterReply(true)
		return Result{Reply: farewell}, true, nil
	}
}
