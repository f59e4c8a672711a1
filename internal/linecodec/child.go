package linecodec

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Child is a long-lived subprocess spoken to over NDJSON on stdin/stdout.
type Child struct {
	cmd   *exec.Cmd
	codec *Codec

	mu   sync.Mutex
	dead bool
}

// SpawnChild starts bin with args and wires a codec to its pipes.
// Stderr is discarded; children are expected to speak only the protocol.
func SpawnChild(bin string, args ...string) (*Child, error) {
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", bin, err)
	}

	c := &Child{cmd: cmd, codec: New(stdin, stdout)}
	go func() {
		cmd.Wait()
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()
	}()
	return c, nil
}

// Call issues one request with a deadline.
func (c *Child) Call(ctx context.Context, payload map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.codec.Call(ctx, payload)
}

// Alive reports whether the process is still running and the stream open.
func (c *Child) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	select {
	case <-c.codec.Done():
		return false
	default:
		return true
	}
}

// PID returns the child's process id, or 0 before start.
func (c *Child) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Done is closed when the protocol stream ends.
func (c *Child) Done() <-chan struct{} { return c.codec.Done() }

// Kill terminates the process. Pending calls fail with ErrClosed.
func (c *Child) Kill() {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}
