package commands

import (
	"context"

	"github.com/msgcode/msgcode/internal/config"
)

// Session commands drive the client pipeline's tmux session. They apply to
// client-kind bindings; /status and /clear work everywhere.

func clientFor(d *Deps, req Request) (ClientSession, string, Result, bool) {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return nil, "", res, false
	}
	if e.RuntimeKind != config.KindClient {
		return nil, "", failf("this binding runs the agent pipeline — /bind with --kind client for a tmux session"), false
	}
	return d.Client(e.WorkspacePath), e.WorkspacePath, Result{}, true
}

func cmdStart(ctx context.Context, d *Deps, req Request) Result {
	c, ws, res, found := clientFor(d, req)
	if !found {
		return res
	}
	if err := c.Start(ctx); err != nil {
		return failf("start failed: %v", err)
	}
	return ok("session up for %s", ws)
}

func cmdStop(ctx context.Context, d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	d.Interventions.Clear(req.ChatID)
	if e.RuntimeKind == config.KindClient {
		if err := d.Client(e.WorkspacePath).Stop(ctx); err != nil {
			return failf("stop failed: %v", err)
		}
		return ok("session stopped, queued interventions dropped")
	}
	return ok("queued interventions dropped")
}

func cmdStatus(ctx context.Context, d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	steers, followUps := d.Interventions.Pending(req.ChatID)
	if e.RuntimeKind == config.KindClient {
		state := "down"
		if d.Client(e.WorkspacePath).Alive(ctx) {
			state = "up"
		}
		return ok("client session %s — %d steer, %d follow-up pending", state, steers, followUps)
	}
	return ok("agent pipeline — %d steer, %d follow-up pending", steers, followUps)
}

// cmdClear resets the short-term window and rotates the thread journal;
// long-term memory is untouched.
func cmdClear(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	d.Window(e.WorkspacePath).Clear()
	d.Journal(e.WorkspacePath).Reset(req.ChatID)
	return ok("window cleared, next turn starts a fresh thread")
}

func cmdSnapshot(ctx context.Context, d *Deps, req Request) Result {
	c, _, res, found := clientFor(d, req)
	if !found {
		return res
	}
	pane, err := c.Capture(ctx)
	if err != nil {
		return failf("capture failed: %v", err)
	}
	if pane == "" {
		return ok("(pane is empty)")
	}
	return ok("%s", pane)
}

func cmdEsc(ctx context.Context, d *Deps, req Request) Result {
	c, _, res, found := clientFor(d, req)
	if !found {
		return res
	}
	if err := c.SendEscape(ctx); err != nil {
		return failf("escape failed: %v", err)
	}
	return ok("escape sent")
}
