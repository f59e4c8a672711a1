package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeTmux records invocations and scripts has-session behavior.
type fakeTmux struct {
	calls      [][]string
	hasSession bool
	paneText   string
}

func (f *fakeTmux) run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	switch args[0] {
	case "has-session":
		if f.hasSession {
			return "", nil
		}
		return "", errors.New("no such session")
	case "new-session":
		f.hasSession = true
		return "", nil
	case "capture-pane":
		return f.paneText, nil
	}
	return "", nil
}

func newTestPipeline(t *testing.T, tmux *fakeTmux) *Pipeline {
	t.Helper()
	p := New("tmux", filepath.Join(t.TempDir(), "ws"), "opencli")
	p.run = tmux.run
	p.replyTimeout = 300 * time.Millisecond
	p.pollInterval = 10 * time.Millisecond
	p.reader = newTranscriptReader(filepath.Join(t.TempDir(), "transcript.jsonl"))
	return p
}

func TestSessionNameStable(t *testing.T) {
	p := New("tmux", "/ws/a", "cli")
	q := New("tmux", "/ws/a", "cli")
	r := New("tmux", "/ws/b", "cli")
	if p.SessionName() != q.SessionName() {
		t.Error("session name not stable")
	}
	if p.SessionName() == r.SessionName() {
		t.Error("different workspaces share a session name")
	}
	if !strings.HasPrefix(p.SessionName(), "msgcode-") {
		t.Errorf("name = %s", p.SessionName())
	}
}

func TestEscapeForTmux(t *testing.T) {
	tests := []struct{ in, want string }{
		{`say "hi"`, `say \"hi\"`},
		{`$HOME and ` + "`cmd`", `\$HOME and \` + "`cmd\\`"},
		{`a;b!c\d`, `a\;b\!c\\d`},
		{"line1\nline2", `line1\nline2`},
		{"tab\there", `tab\there`},
		{"bell\x07end", "bellend"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		if got := escapeForTmux(tt.in); got != tt.want {
			t.Errorf("escapeForTmux(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSendCreatesSessionAndUsesLiteralKeys(t *testing.T) {
	tmux := &fakeTmux{}
	p := newTestPipeline(t, tmux)

	done := make(chan Reply, 1)
	go func() {
		r, err := p.Send(context.Background(), `echo "hi"`)
		if err != nil {
			t.Error(err)
		}
		done <- r
	}()
	time.Sleep(50 * time.Millisecond)
	appendTranscript(t, p.reader.path,
		`{"type":"assistant","content":"hello"}`,
		`{"type":"result"}`)

	reply := <-done
	if !reply.Success || reply.Text != "hello" {
		t.Errorf("reply = %+v", reply)
	}

	var sawNew, sawLiteral, sawEnter bool
	for _, c := range tmux.calls {
		switch c[0] {
		case "new-session":
			sawNew = true
		case "send-keys":
			if len(c) >= 5 && c[3] == "-l" && c[4] == `echo \"hi\"` {
				sawLiteral = true
			}
			if c[len(c)-1] == "Enter" {
				sawEnter = true
			}
		}
	}
	if !sawNew || !sawLiteral || !sawEnter {
		t.Errorf("tmux calls = %v", tmux.calls)
	}
}

func TestSendOnlyReadsOwnOutput(t *testing.T) {
	tmux := &fakeTmux{hasSession: true}
	p := newTestPipeline(t, tmux)

	// Pre-existing transcript content from earlier turns.
	writeTranscript(t, p.reader.path, `{"type":"assistant","content":"OLD"}`)

	done := make(chan Reply, 1)
	go func() {
		r, _ := p.Send(context.Background(), "next question")
		done <- r
	}()
	time.Sleep(50 * time.Millisecond)
	appendTranscript(t, p.reader.path,
		`{"type":"assistant","content":"fresh answer"}`,
		`{"type":"result"}`)

	reply := <-done
	if !reply.Success {
		t.Fatalf("reply = %+v", reply)
	}
	if strings.Contains(reply.Text, "OLD") || reply.Text != "fresh answer" {
		t.Errorf("reply text = %q", reply.Text)
	}
}

func TestTimeoutFallsBackToPaneCapture(t *testing.T) {
	tmux := &fakeTmux{hasSession: true, paneText: "pane contents\n"}
	p := newTestPipeline(t, tmux)
	// No transcript ever appears.

	reply, err := p.Send(context.Background(), "hello?")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.TimedOut || !reply.Partial || reply.Text != "pane contents" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestPartialWithoutEndMarker(t *testing.T) {
	tmux := &fakeTmux{hasSession: true}
	p := newTestPipeline(t, tmux)

	done := make(chan Reply, 1)
	go func() {
		r, _ := p.Send(context.Background(), "q")
		done <- r
	}()
	time.Sleep(50 * time.Millisecond)
	appendTranscript(t, p.reader.path, `{"type":"assistant","content":"half an answ"}`)

	reply := <-done
	if reply.Success || !reply.TimedOut || !reply.Partial {
		t.Errorf("reply = %+v", reply)
	}
	if !strings.Contains(reply.Text, "half an answ") {
		t.Errorf("text = %q", reply.Text)
	}
}

func TestSendEscape(t *testing.T) {
	tmux := &fakeTmux{hasSession: true}
	p := newTestPipeline(t, tmux)
	if err := p.SendEscape(context.Background()); err != nil {
		t.Fatal(err)
	}
	last := tmux.calls[len(tmux.calls)-1]
	if last[0] != "send-keys" || last[len(last)-1] != "Escape" {
		t.Errorf("calls = %v", tmux.calls)
	}
}

func writeTranscript(t *testing.T, path string, lines ...string) {
	t.Helper()
	os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendTranscript(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.WriteString(strings.Join(lines, "\n") + "\n")
}
