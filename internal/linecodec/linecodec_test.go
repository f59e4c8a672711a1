package linecodec

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// echoPeer reads frames and answers each with {"id": ..., "echo": method}.
func echoPeer(t *testing.T, r io.Reader, w io.Writer) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			var req map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			resp := map[string]any{"id": req["id"], "echo": req["method"]}
			data, _ := json.Marshal(resp)
			w.Write(append(data, '\n'))
		}
	}()
}

func TestCallRoundtrip(t *testing.T) {
	toPeerR, toPeerW := io.Pipe()
	fromPeerR, fromPeerW := io.Pipe()
	echoPeer(t, toPeerR, fromPeerW)

	c := New(toPeerW, fromPeerR)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Call(ctx, map[string]any{"method": "list"})
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(resp, &got); err != nil {
		t.Fatal(err)
	}
	if got.Echo != "list" {
		t.Errorf("echo = %q, want %q", got.Echo, "list")
	}
}

func TestConcurrentCallsRouteById(t *testing.T) {
	toPeerR, toPeerW := io.Pipe()
	fromPeerR, fromPeerW := io.Pipe()
	echoPeer(t, toPeerR, fromPeerW)

	c := New(toPeerW, fromPeerR)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	methods := []string{"a", "b", "c", "d"}
	errCh := make(chan error, len(methods))
	for _, m := range methods {
		go func(m string) {
			resp, err := c.Call(ctx, map[string]any{"method": m})
			if err != nil {
				errCh <- err
				return
			}
			var got struct {
				Echo string `json:"echo"`
			}
			json.Unmarshal(resp, &got)
			if got.Echo != m {
				t.Errorf("echo = %q, want %q", got.Echo, m)
			}
			errCh <- nil
		}(m)
	}
	for range methods {
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
	}
}

func TestOrphanResponseDropped(t *testing.T) {
	fromPeerR, fromPeerW := io.Pipe()
	c := New(io.Discard, fromPeerR)

	// A response nobody asked for must not wedge the read loop.
	fromPeerW.Write([]byte(`{"id":"nobody","ok":true}` + "\n"))
	fromPeerW.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not finish after stream close")
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	fromPeerR, fromPeerW := io.Pipe()
	c := New(io.Discard, fromPeerR)
	fromPeerW.Close()
	<-c.Done()

	_, err := c.Call(context.Background(), map[string]any{"method": "x"})
	if err == nil {
		t.Fatal("expected error after stream close")
	}
}

func TestCallContextCancel(t *testing.T) {
	fromPeerR, _ := io.Pipe()
	c := New(io.Discard, fromPeerR)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Call(ctx, map[string]any{"method": "x"})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
