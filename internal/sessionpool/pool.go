// Package sessionpool keeps one desktop-control subprocess per
// (workspacePath, kind), multiplexed over NDJSON, with idle reaping and
// crash self-heal.
package sessionpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msgcode/msgcode/internal/errs"
	"github.com/msgcode/msgcode/internal/linecodec"
	"github.com/msgcode/msgcode/internal/tools"
)

const (
	defaultIdleTimeout = 60 * time.Second
	reapInterval       = 5 * time.Second
)

// Kind selects the session flavor; only desktop exists today.
const KindDesktop = "desktop"

// errSessionGone marks transport-level failures that warrant one respawn
// and retry.
var errSessionGone = errors.New("session gone")

// SessionInfo is the observability snapshot of one live session.
type SessionInfo struct {
	SessionID   string `json:"sessionId"`
	PID         int    `json:"pid"`
	AuditDigest string `json:"auditDigest,omitempty"`
	Workspace   string `json:"workspace"`
	Kind        string `json:"kind"`
}

// child is the subset of linecodec.Child the pool uses; injectable in tests.
type child interface {
	Call(ctx context.Context, payload map[string]any, timeout time.Duration) (json.RawMessage, error)
	Alive() bool
	PID() int
	Kill()
}

// SpawnFunc creates the subprocess for a session key.
type SpawnFunc func(bin string, args ...string) (child, error)

type session struct {
	id    string
	child child
	mu    sync.Mutex // single in-flight request per session
	last  time.Time
	audit string
}

type key struct {
	ws   string
	kind string
}

// Pool owns every session. It implements tools.DesktopRunner.
type Pool struct {
	bin     string
	idle    time.Duration
	spawn   SpawnFunc
	confirm *tools.ConfirmRegistry

	mu       sync.Mutex
	sessions map[key]*session
}

// New builds a pool for the given control binary. confirm may be nil when
// no token registry is wired.
func New(bin string, idle time.Duration, confirm *tools.ConfirmRegistry) *Pool {
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Pool{
		bin:     bin,
		idle:    idle,
		confirm: confirm,
		spawn: func(b string, args ...string) (child, error) {
			return linecodec.SpawnChild(b, args...)
		},
		sessions: make(map[key]*session),
	}
}

func (p *Pool) ensure(ws, kind string) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{ws: ws, kind: kind}
	if s, ok := p.sessions[k]; ok && s.child.Alive() {
		return s, nil
	}
	return p.respawnLocked(k)
}

// respawnLocked replaces (or creates) the session for k. Tokens bound to a
// replaced session are dropped so they fail with reason=expired-session.
func (p *Pool) respawnLocked(k key) (*session, error) {
	if old, ok := p.sessions[k]; ok {
		old.child.Kill()
		if p.confirm != nil {
			p.confirm.DropSession(old.id)
		}
		delete(p.sessions, k)
	}
	c, err := p.spawn(p.bin, "session", k.ws, "--idle-ms",
		strconv.Itoa(int(p.idle/time.Millisecond)))
	if err != nil {
		return nil, errs.Wrap(errs.ToolExecFailed, fmt.Errorf("spawn %s session: %w", k.kind, err))
	}
	s := &session{id: uuid.NewString(), child: c, last: time.Now()}
	p.sessions[k] = s
	slog.Info("sessionpool: spawned", "kind", k.kind, "workspace", k.ws,
		"sessionId", s.id, "pid", c.PID())
	return s, nil
}

// SessionID ensures a live desktop session and returns its identity.
func (p *Pool) SessionID(_ context.Context, workspacePath string) (string, error) {
	s, err := p.ensure(workspacePath, KindDesktop)
	if err != nil {
		return "", err
	}
	return s.id, nil
}

// rpcResult is the wire shape of a session response.
type rpcResult struct {
	Result struct {
		ExitCode int    `json:"exitCode"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		Data     any    `json:"data,omitempty"`
		Artifacts []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"artifacts,omitempty"`
	} `json:"result"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Peer struct {
		PID int `json:"pid"`
	} `json:"peer"`
	AuditDigest string `json:"auditDigest,omitempty"`
}

// Call runs one desktop method. On a dead session or write failure the pool
// respawns and retries the request exactly once.
func (p *Pool) Call(ctx context.Context, workspacePath, method string, params map[string]any, timeout time.Duration) (*tools.Data, []tools.Artifact, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
	data, artifacts, err := p.callOnce(ctx, workspacePath, payload, timeout)
	if err == nil || ctx.Err() != nil {
		return data, artifacts, err
	}
	if !errors.Is(err, errSessionGone) {
		// Structured session errors and timeouts are final; retrying
		// would double-execute.
		return nil, nil, err
	}
	slog.Warn("sessionpool: call failed, respawning and retrying once",
		"method", method, "err", err)
	p.mu.Lock()
	_, respawnErr := p.respawnLocked(key{ws: workspacePath, kind: KindDesktop})
	p.mu.Unlock()
	if respawnErr != nil {
		return nil, nil, respawnErr
	}
	return p.callOnce(ctx, workspacePath, payload, timeout)
}

func (p *Pool) callOnce(ctx context.Context, ws string, payload map[string]any, timeout time.Duration) (*tools.Data, []tools.Artifact, error) {
	s, err := p.ensure(ws, KindDesktop)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Now()

	raw, err := s.child.Call(ctx, payload, timeout)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, errs.New(errs.DesktopTimeout, "no session reply within %s", timeout)
		}
		// Write failure or child exit: the crash-retry path.
		return nil, nil, fmt.Errorf("%w: %w", errSessionGone, err)
	}
	var res rpcResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil, errs.Wrap(errs.ToolExecFailed, err)
	}
	s.audit = res.AuditDigest
	if res.Error != nil {
		return nil, nil, errs.New(desktopCode(res.Error.Code), "%s", res.Error.Message)
	}

	data := &tools.Data{
		Stdout:   res.Result.Stdout,
		Stderr:   res.Result.Stderr,
		ExitCode: res.Result.ExitCode,
		Result:   res.Result.Data,
	}
	var artifacts []tools.Artifact
	for _, a := range res.Result.Artifacts {
		artifacts = append(artifacts, tools.Artifact{Path: a.Path, Kind: a.Kind})
	}
	return data, artifacts, nil
}

// desktopCode maps a session error string onto the closed enumeration.
func desktopCode(code string) errs.Code {
	switch errs.Code(code) {
	case errs.DesktopPermissionMissing, errs.DesktopAnchorNotFound,
		errs.DesktopModalBlocking, errs.DesktopTimeout, errs.DesktopConfirmRequired:
		return errs.Code(code)
	default:
		return errs.ToolExecFailed
	}
}

// Sessions reports every live session (the /status command).
func (p *Pool) Sessions() []SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SessionInfo
	for k, s := range p.sessions {
		if !s.child.Alive() {
			continue
		}
		out = append(out, SessionInfo{
			SessionID:   s.id,
			PID:         s.child.PID(),
			AuditDigest: s.audit,
			Workspace:   k.ws,
			Kind:        k.kind,
		})
	}
	return out
}

// StopAll kills every session (shutdown and the /allstop command).
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.sessions {
		s.child.Kill()
		if p.confirm != nil {
			p.confirm.DropSession(s.id)
		}
		delete(p.sessions, k)
	}
}

// Reap runs the idle reaper until ctx is cancelled. A session idle past the
// timeout is killed; the pool respawns it on next use.
func (p *Pool) Reap(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce(time.Now())
		}
	}
}

func (p *Pool) reapOnce(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.sessions {
		idleFor := now.Sub(s.last)
		if idleFor < p.idle && s.child.Alive() {
			continue
		}
		slog.Info("sessionpool: reaping", "kind", k.kind, "workspace", k.ws,
			"sessionId", s.id, "idle", idleFor.Round(time.Second))
		s.child.Kill()
		if p.confirm != nil {
			p.confirm.DropSession(s.id)
		}
		delete(p.sessions, k)
	}
}
