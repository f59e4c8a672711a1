// Package linecodec multiplexes request/response traffic over a
// line-delimited JSON stream. Outbound frames get a client-assigned id;
// inbound lines are routed to the waiter registered under that id. Both the
// messaging transport and the desktop session pool speak this framing.
package linecodec

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned for calls made after the stream ended.
var ErrClosed = errors.New("linecodec: stream closed")

const maxLineBytes = 16 << 20

// Codec routes NDJSON frames by id. Safe for concurrent Call.
type Codec struct {
	w io.Writer

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	closed  bool
	readErr error
	done    chan struct{}
}

type frame struct {
	ID string `json:"id"`
}

// New starts the read loop over r and returns a codec writing to w.
func New(w io.Writer, r io.Reader) *Codec {
	c := &Codec{
		w:       w,
		pending: make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Done is closed when the read side ends (peer exit or stream error).
func (c *Codec) Done() <-chan struct{} { return c.done }

// Call sends payload with an injected "id" field and waits for the line
// echoing that id. The payload map is not retained.
func (c *Codec) Call(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["id"] = id

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	data = append(data, '\n')

	c.mu.Lock()
	_, err = c.w.Write(data)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	case resp := <-ch:
		return resp, nil
	}
}

func (c *Codec) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil || f.ID == "" {
			slog.Debug("linecodec: unroutable line dropped", "len", len(line))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			// Response without a matching request: log and drop.
			slog.Warn("linecodec: response for unknown id dropped", "id", f.ID)
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		ch <- json.RawMessage(buf)
	}

	c.mu.Lock()
	c.closed = true
	c.readErr = scanner.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
	c.mu.Unlock()
	close(c.done)
}
