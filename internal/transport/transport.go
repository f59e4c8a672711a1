// Package transport drives the external messaging binary. It is the only
// module allowed to spawn and speak to that process.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
	"github.com/msgcode/msgcode/internal/linecodec"
)

// Message is one row from the transport's append-only message source.
type Message struct {
	Rowid       int64    `json:"rowid"`
	ID          string   `json:"id"`
	ChatID      string   `json:"chatId"`
	SenderID    string   `json:"senderId"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	Ts          int64    `json:"ts"` // unix ms
	IsFromMe    bool     `json:"isFromMe"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time { return time.UnixMilli(m.Ts) }

// Ack is the transport's receipt for a send.
type Ack struct {
	ID string `json:"id"`
	Ts int64  `json:"ts"`
}

// rpcChild is the slice of linecodec.Child the adapter needs; tests
// substitute a fake.
type rpcChild interface {
	Call(ctx context.Context, payload map[string]any, timeout time.Duration) (json.RawMessage, error)
	Alive() bool
	PID() int
	Kill()
}

// Adapter spawns the messaging binary on demand and exposes list/send/mark.
type Adapter struct {
	bin         string
	callTimeout time.Duration
	retryBase   time.Duration

	mu    sync.Mutex
	child rpcChild

	// spawn is injectable for tests.
	spawn func(bin string) (rpcChild, error)
}

// New builds an adapter for the given binary path.
func New(bin string, callTimeout time.Duration) *Adapter {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Adapter{
		bin:         bin,
		callTimeout: callTimeout,
		retryBase:   250 * time.Millisecond,
		spawn: func(b string) (rpcChild, error) {
			return linecodec.SpawnChild(b, "serve")
		},
	}
}

func (a *Adapter) ensureChild() (rpcChild, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.child != nil && a.child.Alive() {
		return a.child, nil
	}
	child, err := a.spawn(a.bin)
	if err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, err)
	}
	slog.Info("transport: spawned messaging binary", "bin", a.bin, "pid", child.PID())
	a.child = child
	return child, nil
}

// call issues one RPC with timeout translation.
func (a *Adapter) call(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	child, err := a.ensureChild()
	if err != nil {
		return nil, err
	}
	resp, err := child.Call(ctx, payload, a.callTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.New(errs.TransportTimeout, "no reply within %s", a.callTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.TransportUnavailable, err)
	}
	return resp, nil
}

// List returns messages at or after since.
func (a *Adapter) List(ctx context.Context, since time.Time) ([]Message, error) {
	resp, err := a.call(ctx, map[string]any{
		"method": "list",
		"params": map[string]any{"sinceTs": since.UnixMilli()},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []Message `json:"messages"`
		Error    string    `json:"error,omitempty"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, err)
	}
	if out.Error != "" {
		return nil, errs.New(errs.TransportUnavailable, "%s", out.Error)
	}
	return out.Messages, nil
}

// Send delivers text (or an attachment) to a chat, retrying transient
// failures with exponential backoff up to a bounded ceiling.
func (a *Adapter) Send(ctx context.Context, chatID, text, attachmentPath string) (*Ack, error) {
	params := map[string]any{"chatId": chatID, "text": text}
	if attachmentPath != "" {
		params["attachmentPath"] = attachmentPath
	}

	backoff := a.retryBase
	const maxBackoff = 8 * time.Second
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		resp, err := a.call(ctx, map[string]any{"method": "send", "params": params})
		if err != nil {
			lastErr = err
			continue
		}
		var out struct {
			Ack   *Ack   `json:"ack"`
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(resp, &out); err != nil {
			lastErr = errs.Wrap(errs.TransportUnavailable, err)
			continue
		}
		if out.Error != "" {
			lastErr = errs.New(errs.TransportUnavailable, "%s", out.Error)
			continue
		}
		return out.Ack, nil
	}
	return nil, lastErr
}

// Mark acknowledges processing of a chat up to rowid.
func (a *Adapter) Mark(ctx context.Context, chatID string, rowid int64) error {
	_, err := a.call(ctx, map[string]any{
		"method": "mark",
		"params": map[string]any{"chatId": chatID, "lastRowid": rowid},
	})
	return err
}

// Close kills the child if running.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.child != nil {
		a.child.Kill()
		a.child = nil
	}
}
