package tools

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msgcode/msgcode/internal/errs"
)

// Intent is what a confirm token authorizes: one method with exactly these
// params.
type Intent struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type confirmToken struct {
	intent    Intent
	issuedAt  time.Time
	expiresAt time.Time
	consumed  bool
	dropped   bool
	sessionID string
}

// ConfirmRegistry issues and validates single-use desktop confirm tokens.
// Tokens are bound to the session that issued them; a session restart
// invalidates everything it issued.
type ConfirmRegistry struct {
	mu     sync.Mutex
	tokens map[string]*confirmToken
	now    func() time.Time
}

// NewConfirmRegistry builds an empty registry.
func NewConfirmRegistry() *ConfirmRegistry {
	return &ConfirmRegistry{tokens: make(map[string]*confirmToken), now: time.Now}
}

// Issue creates a token for the given intent, valid for ttl within sessionID.
func (r *ConfirmRegistry) Issue(sessionID string, intent Intent, ttl time.Duration) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok := uuid.NewString()
	now := r.now()
	for k, t := range r.tokens {
		if now.After(t.expiresAt) {
			delete(r.tokens, k)
		}
	}
	r.tokens[tok] = &confirmToken{
		intent:    intent,
		issuedAt:  now,
		expiresAt: now.Add(ttl),
		sessionID: sessionID,
	}
	return tok
}

// Consume validates and atomically spends a token. Every failure is
// DESKTOP_CONFIRM_REQUIRED with a reason detail; only issued → consumed
// succeeds.
func (r *ConfirmRegistry) Consume(token, sessionID string, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return confirmErr("unknown-token", intent.Method)
	}
	if t.dropped {
		delete(r.tokens, token)
		return confirmErr("expired-session", intent.Method)
	}
	if t.consumed {
		return confirmErr("used", intent.Method)
	}
	if r.now().After(t.expiresAt) {
		delete(r.tokens, token)
		return confirmErr("expired", intent.Method)
	}
	if t.sessionID != sessionID {
		return confirmErr("expired-session", intent.Method)
	}
	if t.intent.Method != intent.Method || !reflect.DeepEqual(normalizeParams(t.intent.Params), normalizeParams(intent.Params)) {
		return confirmErr("intent-mismatch", intent.Method)
	}
	t.consumed = true
	return nil
}

// DropSession invalidates every token the session issued. Called by the
// session pool on restart. Tokens are retagged, not deleted, so a later
// Consume reports the session restart instead of an unknown token; the
// retagged entry is removed on that Consume.
func (r *ConfirmRegistry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.sessionID == sessionID {
			t.dropped = true
		}
	}
}

func confirmErr(reason, method string) *errs.E {
	return errs.New(errs.DesktopConfirmRequired,
		"method %s needs a fresh confirm token", method).With("reason", reason)
}

// normalizeParams round-trips nil to an empty map so {} and absent compare
// equal.
func normalizeParams(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
