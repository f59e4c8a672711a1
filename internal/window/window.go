// Package window keeps the bounded short-term conversation window and its
// rolling summary, persisted per workspace.
package window

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxTurns = 24
	defaultMaxChars = 16000
	summaryCap      = 2000
)

// Turn is one user/assistant exchange.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Ts        time.Time `json:"ts"`
}

type fileShape struct {
	Summary string `json:"summary,omitempty"`
	Turns   []Turn `json:"turns"`
}

// Window is the per-workspace conversation window. Evicted turns fold into
// the rolling summary so older context degrades instead of vanishing.
type Window struct {
	mu       sync.Mutex
	path     string
	maxTurns int
	maxChars int
	summary  string
	turns    []Turn
}

// Open loads (or creates) the window for a workspace. A malformed file
// starts empty; the journal holds the durable record.
func Open(workspacePath string) *Window {
	w := &Window{
		path:     filepath.Join(workspacePath, ".msgcode", "window.json"),
		maxTurns: defaultMaxTurns,
		maxChars: defaultMaxChars,
	}
	data, err := os.ReadFile(w.path)
	if err == nil {
		var raw fileShape
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			w.summary = raw.Summary
			w.turns = raw.Turns
		} else {
			slog.Warn("window: malformed file, starting empty", "path", w.path, "err", jsonErr)
		}
	}
	return w
}

// SetLimits overrides the turn and character bounds (workspace-tunable).
func (w *Window) SetLimits(maxTurns, maxChars int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if maxTurns > 0 {
		w.maxTurns = maxTurns
	}
	if maxChars > 0 {
		w.maxChars = maxChars
	}
}

// Append records a completed turn, evicting from the front into the summary
// when the window exceeds its bounds, then persists.
func (w *Window) Append(user, assistant string, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, Turn{User: user, Assistant: assistant, Ts: ts})
	for len(w.turns) > w.maxTurns || w.charsLocked() > w.maxChars {
		if len(w.turns) <= 1 {
			break
		}
		w.foldLocked(w.turns[0])
		w.turns = w.turns[1:]
	}
	w.saveLocked()
}

func (w *Window) charsLocked() int {
	n := 0
	for _, t := range w.turns {
		n += len(t.User) + len(t.Assistant)
	}
	return n
}

// foldLocked appends a one-line digest of an evicted turn to the summary,
// trimming the summary head when it outgrows its cap.
func (w *Window) foldLocked(t Turn) {
	line := fmt.Sprintf("[%s] user: %s / assistant: %s",
		t.Ts.Format("2006-01-02 15:04"), firstLine(t.User, 120), firstLine(t.Assistant, 120))
	if w.summary != "" {
		w.summary += "\n"
	}
	w.summary += line
	for len(w.summary) > summaryCap {
		if i := strings.IndexByte(w.summary, '\n'); i >= 0 {
			w.summary = w.summary[i+1:]
		} else {
			w.summary = w.summary[len(w.summary)-summaryCap:]
		}
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

// Turns returns a snapshot of the current window.
func (w *Window) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Turn(nil), w.turns...)
}

// Summary returns the rolling summary ("" when none).
func (w *Window) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

// Clear drops the window and the summary (the /clear command).
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.summary = ""
	w.saveLocked()
}

// saveLocked persists atomically; failure is log-only, the window is
// reconstructible from the journal.
func (w *Window) saveLocked() {
	data, err := json.MarshalIndent(fileShape{Summary: w.summary, Turns: w.turns}, "", "  ")
	if err != nil {
		slog.Warn("window: marshal failed", "err", err)
		return
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("window: save failed", "path", w.path, "err", err)
		return
	}
	tmp, err := os.CreateTemp(dir, "window-*.tmp")
	if err != nil {
		slog.Warn("window: save failed", "path", w.path, "err", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		if err := tmp.Sync(); err == nil {
			if err := tmp.Close(); err == nil {
				if err := os.Rename(tmpPath, w.path); err == nil {
					return
				}
			}
		}
	} else {
		tmp.Close()
	}
	os.Remove(tmpPath)
	slog.Warn("window: save failed", "path", w.path)
}
