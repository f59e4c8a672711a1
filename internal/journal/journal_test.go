package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnsureThreadWritesFrontMatter(t *testing.T) {
	ws := t.TempDir()
	j := Open(ws)
	th, err := j.EnsureThread("chat1", "plan the week", Meta{RuntimeKind: "agent", AgentProvider: "lmstudio"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(th.Path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{"threadId: ", "chatId: chat1", "runtimeKind: agent", "agentProvider: lmstudio"} {
		if !strings.Contains(s, want) {
			t.Errorf("front-matter missing %q in:\n%s", want, s)
		}
	}
	if !strings.HasSuffix(filepath.Base(th.Path), "_plan-the-week.md") {
		t.Errorf("file name = %s", filepath.Base(th.Path))
	}
}

func TestEnsureThreadIsStablePerChat(t *testing.T) {
	j := Open(t.TempDir())
	a, _ := j.EnsureThread("c", "first", Meta{RuntimeKind: "agent"})
	b, _ := j.EnsureThread("c", "should be ignored", Meta{RuntimeKind: "agent"})
	if a.Path != b.Path || a.ID != b.ID {
		t.Error("second EnsureThread created a new thread")
	}
}

func TestAppendTurnBlocks(t *testing.T) {
	j := Open(t.TempDir())
	th, _ := j.EnsureThread("c", "hello", Meta{RuntimeKind: "agent"})
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	j.AppendTurn(th, "hello", "hi!", ts)
	j.AppendTurn(th, "more", "sure", ts.Add(time.Minute))

	data, _ := os.ReadFile(th.Path)
	s := string(data)
	if !strings.Contains(s, "## Turn 1 - 2026-08-24T10:30:00Z") {
		t.Errorf("missing turn 1 header:\n%s", s)
	}
	if !strings.Contains(s, "## Turn 2 - ") {
		t.Error("missing turn 2 header")
	}
	if !strings.Contains(s, "### User\n\nhello") || !strings.Contains(s, "### Assistant\n\nhi!") {
		t.Error("turn sections malformed")
	}
}

func TestResetRotatesThread(t *testing.T) {
	j := Open(t.TempDir())
	a, _ := j.EnsureThread("c", "same title", Meta{RuntimeKind: "agent"})
	j.Reset("c")
	b, _ := j.EnsureThread("c", "same title", Meta{RuntimeKind: "agent"})
	if a.Path == b.Path {
		t.Error("reset did not rotate the thread file")
	}
}

func TestTitleCollisionSuffixes(t *testing.T) {
	j := Open(t.TempDir())
	var paths []string
	for i := 0; i < 3; i++ {
		th, err := j.EnsureThread("c", "same title", Meta{RuntimeKind: "agent"})
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, filepath.Base(th.Path))
		j.Reset("c")
	}
	if !strings.HasSuffix(paths[0], "_same-title.md") ||
		!strings.HasSuffix(paths[1], "_same-title-2.md") ||
		!strings.HasSuffix(paths[2], "_same-title-3.md") {
		t.Errorf("collision names = %v", paths)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plan the week", "plan-the-week"},
		{"a long message that keeps going past the limit", "a-long-message-that-keep"},
		{"what/about:unsafe*chars?", "whataboutunsafechars"},
		{"", "untitled"},
		{"???", "untitled"},
		{"\x01\x02ok", "ok"},
	}
	for _, tt := range tests {
		if got := deriveTitle(tt.in); got != tt.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
