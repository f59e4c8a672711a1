package tools

import (
	"context"
	"strings"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

const defaultDesktopTimeout = 30 * time.Second

// DesktopRunner is the session-pool surface the desktop tool multiplexes
// over. SessionID ensures a live session and returns its identity so
// confirm tokens can be bound before the call.
type DesktopRunner interface {
	SessionID(ctx context.Context, workspacePath string) (string, error)
	Call(ctx context.Context, workspacePath, method string, params map[string]any, timeout time.Duration) (*Data, []Artifact, error)
}

// readOnlyDesktopMethods never mutate UI state and need no confirm token.
var readOnlyDesktopMethods = map[string]bool{
	"ping":         true,
	"doctor":       true,
	"observe":      true,
	"screenshot":   true,
	"list_windows": true,
}

// runDesktop gates and forwards one desktop call. Destructive methods
// require a confirm token bound to the live session.
func (b *Bus) runDesktop(ctx context.Context, req Request) Response {
	if b.desktop == nil {
		return Fail(errs.New(errs.ToolNotAllowed, "desktop control is not configured"))
	}
	if req.Method == "" {
		return Fail(errs.New(errs.ToolArgInvalid, "desktop requires a method"))
	}
	timeout := req.Meta.Timeout
	if timeout <= 0 {
		timeout = defaultDesktopTimeout
	}

	sessionID, err := b.desktop.SessionID(ctx, req.Meta.WorkspacePath)
	if err != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}

	// RPC method names may carry the "desktop." prefix; the read-only set
	// is keyed on the short form.
	if !readOnlyDesktopMethods[strings.TrimPrefix(req.Method, "desktop.")] {
		if req.Confirm == nil || req.Confirm.Token == "" {
			return Fail(errs.New(errs.DesktopConfirmRequired,
				"method %s mutates UI state; issue a confirm token first", req.Method).
				With("reason", "missing-token"))
		}
		intent := Intent{Method: req.Method, Params: req.Params}
		if err := b.confirm.Consume(req.Confirm.Token, sessionID, intent); err != nil {
			return Fail(errs.Wrap(errs.DesktopConfirmRequired, err))
		}
	}

	data, artifacts, err := b.desktop.Call(ctx, req.Meta.WorkspacePath, req.Method, req.Params, timeout)
	if err != nil {
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}
	return Response{OK: true, Data: data, Artifacts: artifacts}
}
