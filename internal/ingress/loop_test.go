package ingress

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/msgcode/msgcode/internal/bus"
	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/state"
	"github.com/msgcode/msgcode/internal/transport"
)

type fakeLister struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (f *fakeLister) List(_ context.Context, _ time.Time) ([]transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs, nil
}

type recorder struct {
	mu   sync.Mutex
	got  []bus.Inbound
	done chan struct{} // signalled on every handle
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 64)} }

func (r *recorder) handle(_ context.Context, m bus.Inbound) {
	r.mu.Lock()
	r.got = append(r.got, m)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []bus.Inbound {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-deadline:
			t.Fatalf("timed out waiting for %d turns", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Inbound(nil), r.got...)
}

func newTestLoop(t *testing.T, tr Lister, h Handler) (*Loop, *state.Store) {
	t.Helper()
	cursors, err := state.Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.IngressConfig{TickMs: 10, MaxParallel: 4, QueueSoftCap: 4}
	return NewLoop(cfg, tr, NewGate(), cursors, []string{"owner@example.com"}, false, h), cursors
}

func TestPollDeliversAndAdvancesCursor(t *testing.T) {
	lister := &fakeLister{msgs: []transport.Message{
		{Rowid: 1, ID: "m1", ChatID: "iMessage;-;friend@x", SenderID: "owner@example.com", Text: "hi", Ts: time.Now().UnixMilli()},
	}}
	rec := newRecorder()
	loop, cursors := newTestLoop(t, lister, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	got := rec.wait(t, 1)
	if got[0].ChatID != "friend@x" || got[0].Text != "hi" || got[0].Source != bus.SourceUser {
		t.Errorf("delivered = %+v", got[0])
	}
	if cursors.Get("friend@x").LastSeenRowid != 1 {
		t.Error("cursor not advanced")
	}
}

func TestRowidFilterAndDedupAcrossTicks(t *testing.T) {
	// The same row shows up on every tick via the overlap; it must be
	// delivered exactly once.
	lister := &fakeLister{msgs: []transport.Message{
		{Rowid: 5, ID: "m5", ChatID: "c", SenderID: "owner@example.com", Text: "once", Ts: time.Now().UnixMilli()},
	}}
	rec := newRecorder()
	loop, _ := newTestLoop(t, lister, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	rec.wait(t, 1)
	time.Sleep(100 * time.Millisecond) // several more ticks
	rec.mu.Lock()
	n := len(rec.got)
	rec.mu.Unlock()
	if n != 1 {
		t.Errorf("delivered %d times, want 1", n)
	}
}

func TestNonOwnerDirectMessageDropped(t *testing.T) {
	lister := &fakeLister{msgs: []transport.Message{
		{Rowid: 1, ID: "m1", ChatID: "stranger@x", SenderID: "stranger@x", Text: "hi", Ts: time.Now().UnixMilli()},
		{Rowid: 2, ID: "m2", ChatID: "c2", SenderID: "owner@example.com", Text: "ok", Ts: time.Now().UnixMilli()},
	}}
	rec := newRecorder()
	loop, _ := newTestLoop(t, lister, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	got := rec.wait(t, 1)
	if got[0].ChatID != "c2" {
		t.Errorf("non-owner message delivered: %+v", got[0])
	}
}

func TestFromMeRequiresOwnerIdentity(t *testing.T) {
	loop, _ := newTestLoop(t, &fakeLister{}, func(context.Context, bus.Inbound) {})
	own := transport.Message{SenderID: "owner@example.com", IsFromMe: true}
	other := transport.Message{SenderID: "linked-device@x", IsFromMe: true}
	if !loop.allowed("c", own) {
		t.Error("owner self-message rejected")
	}
	if loop.allowed("c", other) {
		t.Error("non-owner self-message allowed")
	}
}

func TestGroupChatOwnerOnly(t *testing.T) {
	loop, _ := newTestLoop(t, &fakeLister{}, func(context.Context, bus.Inbound) {})
	msg := transport.Message{SenderID: "member@x"}

	if !loop.allowed("chat123", msg) {
		t.Error("group member rejected with owner-only off")
	}
	loop.ownerOnlyInGroup = true
	if loop.allowed("chat123", msg) {
		t.Error("group member allowed with owner-only on")
	}
}

func TestPerChatOrderAcrossChatsParallel(t *testing.T) {
	var mu sync.Mutex
	perChat := map[string][]int64{}
	block := make(chan struct{})
	var inflight sync.WaitGroup
	inflight.Add(2)

	handle := func(_ context.Context, m bus.Inbound) {
		if m.Rowid == 1 {
			inflight.Done()
			<-block // hold the first turn of each chat open
		}
		mu.Lock()
		perChat[m.ChatID] = append(perChat[m.ChatID], m.Rowid)
		mu.Unlock()
	}
	lister := &fakeLister{msgs: []transport.Message{
		{Rowid: 1, ID: "a1", ChatID: "a", SenderID: "owner@example.com", Text: "a-1", Ts: time.Now().UnixMilli()},
		{Rowid: 2, ID: "a2", ChatID: "a", SenderID: "owner@example.com", Text: "a-2", Ts: time.Now().UnixMilli()},
		{Rowid: 1, ID: "b1", ChatID: "b", SenderID: "owner@example.com", Text: "b-1", Ts: time.Now().UnixMilli()},
	}}
	loop, _ := newTestLoop(t, lister, handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	// Both chats' first turns run at the same time: cross-chat parallelism.
	waitDone := make(chan struct{})
	go func() { inflight.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("chats did not run in parallel")
	}
	close(block)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		done := len(perChat["a"]) == 2 && len(perChat["b"]) == 1
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(perChat["a"]) != 2 || perChat["a"][0] != 1 || perChat["a"][1] != 2 {
		t.Errorf("chat a order = %v, want [1 2]", perChat["a"])
	}
}

func TestSoftCapDropsScheduleTurnsOnly(t *testing.T) {
	items := []bus.Inbound{
		{Source: bus.SourceUser, Text: "u1"},
		{Source: "schedule:job1", Text: "s1"},
		{Source: bus.SourceUser, Text: "u2"},
		{Source: "schedule:job2", Text: "s2"},
	}
	kept := dropStaleSchedules(items)
	if len(kept) != 2 || kept[0].Text != "u1" || kept[1].Text != "u2" {
		t.Errorf("kept = %+v", kept)
	}
}

func TestEnqueueSyntheticBypassesGate(t *testing.T) {
	rec := newRecorder()
	loop, _ := newTestLoop(t, &fakeLister{}, rec.handle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.EnqueueSynthetic(ctx, bus.Inbound{ChatID: "c", Text: "ping", Source: "schedule:job1"})
	got := rec.wait(t, 1)
	if got[0].Source != "schedule:job1" || !got[0].IsSynthetic() {
		t.Errorf("synthetic turn = %+v", got[0])
	}
}
