package intent

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/parlo/internal/role"
	"github.com/MrWong99/parlo/internal/wake"
)

// rolesStub is a fixed role collection keyed by lowercased name.
type rolesStub map[string]role.Role

func (r rolesStub) ByName(name string) (role.Role, bool) {
	got, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return got, ok
}

func testRoles() rolesStub {
	return rolesStub{
		"nova": {
			ID:     "r1",
			Name:   "Nova",
			Prompt: "You are {{assistant_name}}, a cheerful stargazer. Always introduce yourself as {{assistant_name}}.",
			Voice:  "en-US-nova",
		},
	}
}

func TestChangeRole_SwitchesPersona(t *testing.T) {
	fn := ChangeRole(testRoles())
	sess := &hooksStub{prompt: "old prompt", voice: "old-voice"}

	res, err := fn.Handle(context.Background(), sess, `{"role_name": "nova"}`)
	if err != nil {
		t.Fatalf("Handle: unexpected error: %v", err)
	}
	if sess.voice != "en-US-nova" {
		t.Errorf("voice = %q, want %q", sess.voice, "en-US-nova")
	}
	if strings.Contains(sess.prompt, "{{assistant_name}}") {
		t.Errorf("prompt still contains the placeholder: %q", sess.prompt)
	}
	if !strings.Contains(sess.prompt, "Nova") {
		t.Errorf("prompt = %q, want the role name substituted in", sess.prompt)
	}
	if !strings.Contains(res.Reply, "Nova") {
		t.Errorf("reply = %q, want it to name the new persona", res.Reply)
	}
	if sess.closeAfter {
		t.Error("change_role set close-after-reply")
	}
}

func TestChangeRole_UnknownRole(t *testing.T) {
	fn := ChangeRole(testRoles())
	sess := &hooksStub{prompt: "old prompt", voice: "old-voice"}

	res, err := fn.Handle(context.Background(), sess, `{"role_name": "Zeus"}`)
	if err != nil {
		t.Fatalf("Handle: unexpected error: %v", err)
	}
	if sess.prompt != "old prompt" || sess.voice != "old-voice" {
		t.Errorf("session mutated for an unknown role: prompt=%q voice=%q", sess.prompt, sess.voice)
	}
	if !strings.Contains(res.Reply, "Zeus") {
		t.Errorf("reply = %q, want it to name the unknown role", res.Reply)
	}
}

func TestChangeRole_BadArgs(t *testing.T) {
	fn := ChangeRole(testRoles())

	if _, err := fn.Handle(context.Background(), &hooksStub{}, `{"role_name": `); err == nil {
		t.Error("Handle accepted malformed JSON args")
	}
	if _, err := fn.Handle(context.Background(), &hooksStub{}, `{}`); err == nil {
		t.Error("Handle accepted an empty role_name")
	}
}

func TestAdoptRole_KeepsVoiceWhenRoleHasNone(t *testing.T) {
	sess := &hooksStub{voice: "configured-voice"}
	AdoptRole(sess, role.Role{Name: "Quiet", Prompt: "You are {{assistant_name}}."})

	if sess.voice != "configured-voice" {
		t.Errorf("voice = %q, want the existing voice kept", sess.voice)
	}
	if sess.prompt != "You are Quiet." {
		t.Errorf("prompt = %q, want placeholder substituted", sess.prompt)
	}
}

func TestExitIntent(t *testing.T) {
	fn := ExitIntent("")

	tests := []struct {
		name      string
		args      string
		wantReply string
	}{
		{"default farewell", `{}`, DefaultFarewell},
		{"custom goodbye", `{"goodbye": "Bye then!"}`, "Bye then!"},
		{"malformed args still close", `{"goodbye": `, DefaultFarewell},
		{"empty args", "", DefaultFarewell},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sess := &hooksStub{}
			res, err := fn.Handle(context.Background(), sess, tc.args)
			if err != nil {
				t.Fatalf("Handle: unexpected error: %v", err)
			}
			if !sess.closeAfter {
				t.Error("close-after-reply not set")
			}
			if res.Reply != tc.wantReply {
				t.Errorf("reply = %q, want %q", res.Reply, tc.wantReply)
			}
		})
	}
}

func TestExitIntent_ConfiguredFarewell(t *testing.T) {
	fn := ExitIntent("See you around.")
	sess := &hooksStub{}
	res, err := fn.Handle(context.Background(), sess, "{}")
	if err != nil {
		t.Fatalf("Handle: unexpected error: %v", err)
	}
	if res.Reply != "See you around." {
		t.Errorf("reply = %q, want the configured farewell", res.Reply)
	}
}

func TestExitPhrases(t *testing.T) {
	hook := ExitPhrases(wake.New([]string{"goodbye", "see you later"}), "Farewell!")

	sess := &hooksStub{}
	res, claimed, err := hook(context.Background(), sess, "Goodbye!")
	if err != nil {
		t.Fatalf("hook: unexpected error: %v", err)
	}
	if !claimed {
		t.Fatal("hook did not claim a matching exit phrase")
	}
	if res.Reply != "Farewell!" {
		t.Errorf("reply = %q, want %q", res.Reply, "Farewell!")
	}
	if !sess.closeAfter {
		t.Error("close-after-reply not set")
	}

	sess = &hooksStub{}
	_, claimed, err = hook(context.Background(), sess, "what's the weather like")
	if err != nil {
		t.Fatalf("hook: unexpected error: %v", err)
	}
	if claimed {
		t.Error("hook claimed an unrelated transcript")
	}
	if sess.closeAfter {
		t.Error("close-after-reply set without a match")
	}
}

func TestExitPhrases_NilMatcher(t *testing.T) {
	hook := ExitPhrases(nil, "")
	_, claimed, err := hook(context.Background(), &hooksStub{}, "goodbye")
	if err != nil {
		t.Fatalf("hook: unexpected error: %v", err)
	}
	if claimed {
		t.Error("nil matcher claimed a transcript")
	}
}
