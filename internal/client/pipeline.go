// Package client drives an external CLI hosted in a terminal multiplexer
// pane. The pipeline injects nothing: no soul, no memory, no tools.
package client

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultReplyTimeout = 120 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	// A transcript older than this relative to the send is stale; fall
	// back to a pane capture.
	transcriptStaleAfter = 2 * time.Second
)

// Reply is the framed output of one client turn.
type Reply struct {
	Text     string
	Success  bool
	Partial  bool
	TimedOut bool
}

// runFunc executes one tmux invocation; injectable in tests.
type runFunc func(ctx context.Context, args ...string) (string, error)

// Pipeline owns the tmux session for one workspace.
type Pipeline struct {
	tmuxBin       string
	workspacePath string
	clientName    string // the CLI hosted in the pane
	replyTimeout  time.Duration
	pollInterval  time.Duration

	run    runFunc
	reader *transcriptReader
}

// New builds a pipeline for a workspace. clientName selects the hosted CLI
// and its transcript location.
func New(tmuxBin, workspacePath, clientName string) *Pipeline {
	p := &Pipeline{
		tmuxBin:       tmuxBin,
		workspacePath: workspacePath,
		clientName:    clientName,
		replyTimeout:  defaultReplyTimeout,
		pollInterval:  defaultPollInterval,
		reader:        newTranscriptReader(transcriptPath(workspacePath, clientName)),
	}
	p.run = func(ctx context.Context, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, p.tmuxBin, args...).CombinedOutput()
		return string(out), err
	}
	return p
}

// SessionName derives the stable tmux session name for the workspace.
func (p *Pipeline) SessionName() string {
	h := fnv.New32a()
	h.Write([]byte(p.workspacePath))
	return fmt.Sprintf("msgcode-%08x", h.Sum32())
}

// ensureSession attaches or creates the named session with the client CLI
// running in its pane.
func (p *Pipeline) ensureSession(ctx context.Context) error {
	if _, err := p.run(ctx, "has-session", "-t", p.SessionName()); err == nil {
		return nil
	}
	_, err := p.run(ctx, "new-session", "-d", "-s", p.SessionName(),
		"-c", p.workspacePath, p.clientName)
	if err != nil {
		return fmt.Errorf("create tmux session: %w", err)
	}
	return nil
}

// Start brings the session up without sending anything (the /start command).
func (p *Pipeline) Start(ctx context.Context) error {
	return p.ensureSession(ctx)
}

// Send delivers the user's text verbatim and collects the reply.
func (p *Pipeline) Send(ctx context.Context, text string) (Reply, error) {
	if err := p.ensureSession(ctx); err != nil {
		return Reply{}, err
	}
	p.reader.markOffset()

	// send-keys -l passes the text literally; escaping covers what tmux
	// still interprets inside a literal send.
	if _, err := p.run(ctx, "send-keys", "-t", p.SessionName(), "-l", escapeForTmux(text)); err != nil {
		return Reply{}, fmt.Errorf("send-keys: %w", err)
	}
	if _, err := p.run(ctx, "send-keys", "-t", p.SessionName(), "Enter"); err != nil {
		return Reply{}, fmt.Errorf("send-keys enter: %w", err)
	}
	return p.collect(ctx), nil
}

// collect polls the transcript until an end-of-turn marker or the timeout.
func (p *Pipeline) collect(ctx context.Context) Reply {
	deadline := time.NewTimer(p.replyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var collected strings.Builder
	done := false
	for !done {
		select {
		case <-ctx.Done():
			return Reply{Text: collected.String(), Partial: collected.Len() > 0, TimedOut: false}
		case <-deadline.C:
			done = true
		case <-ticker.C:
			text, endOfTurn := p.reader.readNew()
			collected.WriteString(text)
			if endOfTurn {
				return Reply{Text: strings.TrimSpace(collected.String()), Success: true}
			}
		}
	}

	// Timeout. If the transcript yielded nothing and has been quiet it is
	// missing or stale; a pane capture is better than nothing.
	if collected.Len() == 0 && time.Since(p.reader.lastActivity()) > transcriptStaleAfter {
		if pane, err := p.Capture(ctx); err == nil && pane != "" {
			slog.Debug("client: transcript stale, using pane capture",
				"workspace", p.workspacePath)
			return Reply{Text: pane, Partial: true, TimedOut: true}
		}
	}
	return Reply{Text: strings.TrimSpace(collected.String()), Partial: collected.Len() > 0, TimedOut: true}
}

// Capture returns the current pane content (the /snapshot command and the
// fallback read path).
func (p *Pipeline) Capture(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "capture-pane", "-p", "-t", p.SessionName())
	if err != nil {
		return "", fmt.Errorf("capture-pane: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// SendEscape delivers a bare Escape key (the /esc command).
func (p *Pipeline) SendEscape(ctx context.Context) error {
	if err := p.ensureSession(ctx); err != nil {
		return err
	}
	_, err := p.run(ctx, "send-keys", "-t", p.SessionName(), "Escape")
	return err
}

// Stop kills the tmux session (the /stop command).
func (p *Pipeline) Stop(ctx context.Context) error {
	_, err := p.run(ctx, "kill-session", "-t", p.SessionName())
	return err
}

// Alive reports whether the session exists.
func (p *Pipeline) Alive(ctx context.Context) bool {
	_, err := p.run(ctx, "has-session", "-t", p.SessionName())
	return err == nil
}

// escapeForTmux escapes the characters tmux interprets even in a literal
// send-keys: backslash, double quote, dollar, semicolon, backtick, bang,
// and control characters.
func escapeForTmux(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '\\', '"', '$', ';', '`', '!':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		default:
			if r < 0x20 || r == 0x7f {
				// Other control characters are dropped; they would be
				// keystrokes, not text.
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// transcriptPath locates the hosted CLI's JSONL transcript for the
// workspace.
func transcriptPath(workspacePath, clientName string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+clientName, "transcripts",
		strings.ReplaceAll(strings.TrimPrefix(workspacePath, string(filepath.Separator)),
			string(filepath.Separator), "-")+".jsonl")
}
