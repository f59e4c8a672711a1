package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/msgcode/msgcode/internal/memory"
	"github.com/msgcode/msgcode/internal/window"
)

func TestAssembleOrder(t *testing.T) {
	msgs, stats := Assemble(Input{
		Soul:       Soul{Source: SoulWorkspace, Path: "/ws/.msgcode/SOUL.md", Content: "You are terse."},
		Summary:    "earlier we discussed deploys",
		MemoryHits: []memory.Hit{{Text: "owner prefers oat milk", Score: 0.9, Reasons: []string{"vector"}}},
		WindowTurns: []window.Turn{
			{User: "hi", Assistant: "hello", Ts: time.Now()},
		},
		UserText:  "what's next?",
		PiEnabled: true,
	})

	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{"system", "system", "system", "user", "assistant", "user"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	if !strings.Contains(msgs[0].Content, "You are terse.") || !strings.Contains(msgs[0].Content, "read_file") {
		t.Error("soul system message missing persona or capability section")
	}
	if !strings.Contains(msgs[1].Content, "deploys") {
		t.Error("summary missing")
	}
	if !strings.Contains(msgs[2].Content, "oat milk") || !strings.Contains(msgs[2].Content, "vector") {
		t.Error("memory block missing text or provenance")
	}
	if msgs[len(msgs)-1].Content != "what's next?" {
		t.Error("user turn must be last")
	}

	if stats.SoulSource != SoulWorkspace || stats.SoulChars == 0 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.MemoryInjected || stats.MemoryHitCount != 1 || stats.WindowTurns != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAssembleMinimal(t *testing.T) {
	msgs, stats := Assemble(Input{Soul: Soul{Source: SoulNone}, UserText: "hi"})
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("msgs = %+v", msgs)
	}
	if stats.MemoryInjected || stats.SoulChars != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMemoryCapDropsWholeHits(t *testing.T) {
	hits := []memory.Hit{
		{Text: strings.Repeat("a", 200), Score: 0.9, Reasons: []string{"vector"}},
		{Text: strings.Repeat("b", 200), Score: 0.5, Reasons: []string{"text"}},
	}
	block, chars, count := memoryBlock(hits, 300)
	if count != 1 {
		t.Errorf("count = %d, want 1 (second hit dropped whole)", count)
	}
	if chars != len(block) || chars > 300 {
		t.Errorf("chars = %d, block len = %d", chars, len(block))
	}
	if strings.Contains(block, "bbb") {
		t.Error("dropped hit leaked into block")
	}
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	long := strings.Repeat("x", capWindow/2)
	turns := []window.Turn{
		{User: "oldest", Assistant: long},
		{User: "middle", Assistant: long},
		{User: "newest", Assistant: "short"},
	}
	var stats Stats
	msgs := windowMessages(turns, &stats)
	if stats.WindowTurns != 2 {
		t.Fatalf("kept turns = %d, want 2", stats.WindowTurns)
	}
	if msgs[0].Content != "middle" {
		t.Errorf("first kept turn = %q, want middle", msgs[0].Content)
	}
}

func TestResolveSoulWorkspaceWins(t *testing.T) {
	ws := t.TempDir()
	global := t.TempDir()
	oldDir := soulsDir
	soulsDir = func() string { return global }
	defer func() { soulsDir = oldDir }()

	writeSoulFiles(t, ws, global)
	s := ResolveSoul(ws)
	if s.Source != SoulWorkspace || !strings.Contains(s.Content, "workspace persona") {
		t.Errorf("soul = %+v", s)
	}
}

func TestResolveSoulGlobalFallback(t *testing.T) {
	ws := t.TempDir() // no workspace soul
	global := t.TempDir()
	oldDir := soulsDir
	soulsDir = func() string { return global }
	defer func() { soulsDir = oldDir }()

	writeSoulFiles(t, t.TempDir(), global)
	s := ResolveSoul(ws)
	if s.Source != SoulGlobal || !strings.Contains(s.Content, "global persona") {
		t.Errorf("soul = %+v", s)
	}

	names := ListSouls()
	if len(names) != 1 || names[0] != "butler" {
		t.Errorf("souls = %v", names)
	}
}

func TestResolveSoulNone(t *testing.T) {
	oldDir := soulsDir
	soulsDir = func() string { return t.TempDir() }
	defer func() { soulsDir = oldDir }()

	if s := ResolveSoul(t.TempDir()); s.Source != SoulNone {
		t.Errorf("soul = %+v", s)
	}
}
