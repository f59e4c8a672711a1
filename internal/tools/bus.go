package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/errs"
)

// Policy is the per-request slice of the workspace config the gate needs.
type Policy struct {
	ToolingMode string   // explicit|autonomous
	Allow       []string // allow-list; required in explicit mode
	PolicyMode  string   // local-only|egress-allowed
}

// PolicyFromWorkspace extracts the gate inputs from a workspace config.
func PolicyFromWorkspace(ws *config.Workspace) Policy {
	return Policy{
		ToolingMode: ws.Tooling.Mode,
		Allow:       ws.Tooling.Allow,
		PolicyMode:  ws.Policy.Mode,
	}
}

// ToolStat is one tool's running counters.
type ToolStat struct {
	Tool     string
	Calls    int64
	Errors   int64
	Duration time.Duration
}

// Bus routes every tool call through the policy gate, executes it, and
// keeps telemetry.
type Bus struct {
	desktop DesktopRunner
	confirm *ConfirmRegistry

	mu    sync.Mutex
	stats map[string]*ToolStat
}

// NewBus wires the bus. desktop may be nil; desktop calls then fail with
// TOOL_NOT_ALLOWED.
func NewBus(desktop DesktopRunner, confirm *ConfirmRegistry) *Bus {
	return &Bus{
		desktop: desktop,
		confirm: confirm,
		stats:   make(map[string]*ToolStat),
	}
}

// Confirm exposes the registry for command handlers (/desktop confirm).
func (b *Bus) Confirm() *ConfirmRegistry { return b.confirm }

// Execute runs one call. It never panics a failure into a success: the
// response either carries data or a coded error.
func (b *Bus) Execute(ctx context.Context, req Request, pol Policy) Response {
	start := time.Now()
	slog.Info("tool: start",
		"toolName", req.Tool, "method", req.Method,
		"requestId", req.Meta.RequestID, "source", req.Meta.Source)

	resp := b.execute(ctx, req, pol)

	dur := time.Since(start)
	code := ""
	if resp.Err != nil {
		code = string(resp.Err.Code)
	}
	slog.Info("tool: end",
		"toolName", req.Tool, "durationMs", dur.Milliseconds(),
		"errorCode", code, "source", req.Meta.Source)
	b.record(req.Tool, dur, resp.Err != nil)
	return resp
}

func (b *Bus) execute(ctx context.Context, req Request, pol Policy) Response {
	if err := b.gate(req, pol); err != nil {
		return Fail(err)
	}
	switch req.Tool {
	case ToolReadFile:
		return readFile(req)
	case ToolWriteFile:
		return writeFile(req)
	case ToolEditFile:
		return editFile(req)
	case ToolBash:
		return runBash(ctx, req)
	case ToolDesktop:
		return b.runDesktop(ctx, req)
	default:
		// unreachable: the gate rejects unknown tools
		return Fail(errs.New(errs.ToolNotAllowed, "unknown tool %s", req.Tool))
	}
}

// gate applies the policy checks in order: tooling mode, allow-list, egress
// class, confirm token. The first failure wins.
func (b *Bus) gate(req Request, pol Policy) *errs.E {
	if !isCanonical(req.Tool) {
		return errs.New(errs.ToolNotAllowed, "tool %s is not in the tool set", req.Tool).
			With("tool", req.Tool)
	}
	if req.Meta.WorkspacePath == "" {
		return errs.New(errs.ToolArgInvalid, "request has no workspace path")
	}

	switch pol.ToolingMode {
	case config.ToolingAutonomous:
		if len(pol.Allow) > 0 && !contains(pol.Allow, req.Tool) {
			return notAllowed(req.Tool, "not on the workspace allow-list")
		}
	default: // explicit
		if !contains(pol.Allow, req.Tool) {
			return notAllowed(req.Tool, "explicit mode requires an allow-list entry")
		}
	}

	if req.Tool == ToolBash && pol.PolicyMode != config.PolicyEgressAllowed {
		if script, _ := req.Params["command"].(string); isEgressCommand(script) {
			return notAllowed(req.Tool, "network egress is disabled for this workspace").
				With("policy", "local-only")
		}
	}

	// Confirm tokens are checked inside runDesktop, where the session id
	// is known.
	return nil
}

func notAllowed(tool, why string) *errs.E {
	return errs.New(errs.ToolNotAllowed, "%s: %s", tool, why).With("tool", tool)
}

func isCanonical(tool string) bool { return contains(AllTools(), tool) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (b *Bus) record(tool string, dur time.Duration, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.stats[tool]
	if !ok {
		st = &ToolStat{Tool: tool}
		b.stats[tool] = st
	}
	st.Calls++
	st.Duration += dur
	if failed {
		st.Errors++
	}
}

// Stats returns counters sorted by tool name (the /toolstats command).
func (b *Bus) Stats() []ToolStat {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ToolStat, 0, len(b.stats))
	for _, st := range b.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}
