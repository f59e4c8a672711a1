// Package logging wires slog to a rolling file with message-text redaction.
package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options for Setup.
type Options struct {
	Dir     string // log directory; file is msgcode.log
	Level   string // debug|info|warn|error
	Console bool   // tee a text handler to stderr
}

// redactedKeys are attribute names whose values carry user text. Above debug
// level they are reduced to length + digest so transcripts never land in logs.
var redactedKeys = map[string]bool{"text": true, "content": true, "message": true}

// Setup installs the default slog logger. The log directory must be writable;
// a failure here is a startup precondition error for the caller.
func Setup(opts Options) error {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	probe := filepath.Join(opts.Dir, ".wtest")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("log dir not writable: %w", err)
	}
	os.Remove(probe)

	level := parseLevel(opts.Level)
	roller := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "msgcode.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
	}

	replace := func(groups []string, a slog.Attr) slog.Attr {
		if level > slog.LevelDebug && redactedKeys[a.Key] && a.Value.Kind() == slog.KindString {
			return slog.String(a.Key, digestValue(a.Value.String()))
		}
		return a
	}

	var w io.Writer = roller
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replace})
	if opts.Console {
		console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(teeHandler{handler, console}))
		return nil
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func digestValue(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("len=%d sha=%s", len(s), hex.EncodeToString(sum[:4]))
}

// teeHandler fans records out to two handlers.
type teeHandler struct{ a, b slog.Handler }

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return t.a.Enabled(ctx, l) || t.b.Enabled(ctx, l)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if t.a.Enabled(ctx, r.Level) {
		t.a.Handle(ctx, r.Clone())
	}
	if t.b.Enabled(ctx, r.Level) {
		t.b.Handle(ctx, r.Clone())
	}
	return nil
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t.a.WithAttrs(attrs), t.b.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t.a.WithGroup(name), t.b.WithGroup(name)}
}
