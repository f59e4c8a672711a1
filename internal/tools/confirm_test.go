package tools

import (
	"errors"
	"testing"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

// reason unwraps the coded error and returns its reason detail.
func reason(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected a confirm error, got nil")
	}
	var e *errs.E
	if !errors.As(err, &e) {
		t.Fatalf("error is not coded: %v", err)
	}
	if e.Code != errs.DesktopConfirmRequired {
		t.Fatalf("code = %s, want DESKTOP_CONFIRM_REQUIRED", e.Code)
	}
	r, _ := e.Details["reason"].(string)
	return r
}

func TestConfirmHappyPath(t *testing.T) {
	r := NewConfirmRegistry()
	intent := Intent{Method: "click", Params: map[string]any{"x": 1.0, "y": 2.0}}
	tok := r.Issue("s1", intent, time.Minute)
	if err := r.Consume(tok, "s1", intent); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
}

func TestConfirmSingleUse(t *testing.T) {
	r := NewConfirmRegistry()
	intent := Intent{Method: "click", Params: nil}
	tok := r.Issue("s1", intent, time.Minute)
	r.Consume(tok, "s1", intent)

	if got := reason(t, r.Consume(tok, "s1", intent)); got != "used" {
		t.Errorf("second use reason = %q, want used", got)
	}
}

func TestConfirmExpiry(t *testing.T) {
	r := NewConfirmRegistry()
	intent := Intent{Method: "click"}
	tok := r.Issue("s1", intent, time.Minute)
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if got := reason(t, r.Consume(tok, "s1", intent)); got != "expired" {
		t.Errorf("expired use reason = %q, want expired", got)
	}
}

func TestConfirmSessionBinding(t *testing.T) {
	r := NewConfirmRegistry()
	intent := Intent{Method: "click"}
	tok := r.Issue("s1", intent, time.Minute)

	if got := reason(t, r.Consume(tok, "s2", intent)); got != "expired-session" {
		t.Errorf("cross-session use reason = %q, want expired-session", got)
	}
}

func TestConfirmIntentMismatch(t *testing.T) {
	r := NewConfirmRegistry()
	tok := r.Issue("s1", Intent{Method: "click", Params: map[string]any{"x": 1.0}}, time.Minute)

	err := r.Consume(tok, "s1", Intent{Method: "click", Params: map[string]any{"x": 99.0}})
	if got := reason(t, err); got != "intent-mismatch" {
		t.Errorf("param mismatch reason = %q", got)
	}
	err = r.Consume(tok, "s1", Intent{Method: "type", Params: map[string]any{"x": 1.0}})
	if got := reason(t, err); got != "intent-mismatch" {
		t.Errorf("method mismatch reason = %q", got)
	}
}

func TestConfirmNilAndEmptyParamsEqual(t *testing.T) {
	r := NewConfirmRegistry()
	tok := r.Issue("s1", Intent{Method: "click", Params: nil}, time.Minute)
	if err := r.Consume(tok, "s1", Intent{Method: "click", Params: map[string]any{}}); err != nil {
		t.Errorf("nil vs empty params: %v", err)
	}
}

func TestDropSessionRetagsTokens(t *testing.T) {
	r := NewConfirmRegistry()
	intent := Intent{Method: "click"}
	tok := r.Issue("s1", intent, time.Minute)
	r.DropSession("s1")

	// A token that outlives its session reports the restart, not a typo.
	if got := reason(t, r.Consume(tok, "s1", intent)); got != "expired-session" {
		t.Errorf("post-drop reason = %q, want expired-session", got)
	}
	// The retagged entry is gone after that; now it really is unknown.
	if got := reason(t, r.Consume(tok, "s1", intent)); got != "unknown-token" {
		t.Errorf("second post-drop reason = %q, want unknown-token", got)
	}

	// A token issued by the respawned session is unaffected.
	tok2 := r.Issue("s1", intent, time.Minute)
	if err := r.Consume(tok2, "s1", intent); err != nil {
		t.Errorf("fresh token after drop: %v", err)
	}
}

func TestConsumeNeverIssuedToken(t *testing.T) {
	r := NewConfirmRegistry()
	if got := reason(t, r.Consume("nope", "s1", Intent{Method: "click"})); got != "unknown-token" {
		t.Errorf("reason = %q, want unknown-token", got)
	}
}
