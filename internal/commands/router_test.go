package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msgcode/msgcode/internal/bus"
	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/interventions"
	"github.com/msgcode/msgcode/internal/journal"
	"github.com/msgcode/msgcode/internal/memory"
	"github.com/msgcode/msgcode/internal/routes"
	"github.com/msgcode/msgcode/internal/schedule"
	"github.com/msgcode/msgcode/internal/state"
	"github.com/msgcode/msgcode/internal/tools"
	"github.com/msgcode/msgcode/internal/transport"
	"github.com/msgcode/msgcode/internal/window"
)

type fakeClient struct {
	started, stopped, escaped bool
	alive                     bool
	pane                      string
}

func (f *fakeClient) Start(context.Context) error      { f.started = true; f.alive = true; return nil }
func (f *fakeClient) Stop(context.Context) error       { f.stopped = true; f.alive = false; return nil }
func (f *fakeClient) Capture(context.Context) (string, error) { return f.pane, nil }
func (f *fakeClient) SendEscape(context.Context) error { f.escaped = true; return nil }
func (f *fakeClient) Alive(context.Context) bool       { return f.alive }

type fakeDesktop struct {
	calls []string
}

func (f *fakeDesktop) SessionID(context.Context, string) (string, error) {
	return "sess-1", nil
}

func (f *fakeDesktop) Call(_ context.Context, _ string, method string, _ map[string]any, _ time.Duration) (*tools.Data, []tools.Artifact, error) {
	f.calls = append(f.calls, method)
	return &tools.Data{Result: map[string]any{"method": method}}, nil, nil
}

type ownerRecorder struct {
	owners    []string
	ownerOnly *bool
}

func (r *ownerRecorder) SetOwners(o []string) { r.owners = o }
func (r *ownerRecorder) SetOwnerOnly(on bool) { r.ownerOnly = &on }

type testEnv struct {
	deps    *Deps
	root    string
	client  *fakeClient
	desktop *fakeDesktop
	sink    *ownerRecorder
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "workspaces")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	rt, err := routes.Load(filepath.Join(dir, "routes.json"), root)
	if err != nil {
		t.Fatal(err)
	}
	cursors, err := state.Load(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Owner = "owner@example.com"
	cfg.WorkspaceRoot = root

	desktop := &fakeDesktop{}
	fc := &fakeClient{}
	sink := &ownerRecorder{}
	scheds := make(map[string]*schedule.Scheduler)

	d := &Deps{
		Version:       "test",
		Config:        cfg,
		ConfigPath:    filepath.Join(dir, "config.json"),
		Routes:        rt,
		Cursors:       cursors,
		Bus:           tools.NewBus(desktop, tools.NewConfirmRegistry()),
		Desktop:       desktop,
		Interventions: interventions.New(),
		Ingress:       sink,
		Scheduler: func(ws string) *schedule.Scheduler {
			if s, ok := scheds[ws]; ok {
				return s
			}
			s := schedule.New(ws, func(context.Context, bus.Inbound) {})
			scheds[ws] = s
			return s
		},
		Client:  func(string) ClientSession { return fc },
		Memory:  func(ws string) *memory.Store { return memory.Open(ws, nil, memory.DefaultWeights()) },
		Window:  window.Open,
		Journal: journal.Open,
	}
	return &testEnv{deps: d, root: root, client: fc, desktop: desktop, sink: sink}
}

func (e *testEnv) run(t *testing.T, chatID, text string) Result {
	t.Helper()
	cmd, known := Parse(text)
	if !known {
		t.Fatalf("Parse(%q) did not recognize a command", text)
	}
	return Dispatch(context.Background(), e.deps, Request{ChatID: chatID, Cmd: cmd})
}

func (e *testEnv) bind(t *testing.T, chatID, name string) string {
	t.Helper()
	ws := filepath.Join(e.root, name)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	if res := e.run(t, chatID, "/bind "+name); !res.Success {
		t.Fatalf("bind: %s", res.Message)
	}
	return ws
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/help", true},
		{"  /bind acme", true},
		{"/2fast", false},
		{"//comment", false},
		{"help", false},
		{"/", false},
		{"just a message with / in it", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Identify(tt.in); got != tt.want {
			t.Errorf("Identify(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	cmd, known := Parse("/Schedule enable daily-report")
	if !known {
		t.Fatal("known command not recognized")
	}
	if cmd.Name != "schedule" {
		t.Errorf("name = %q", cmd.Name)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "enable" || cmd.Args[1] != "daily-report" {
		t.Errorf("args = %v", cmd.Args)
	}

	cmd, known = Parse("/steer focus on the tests,\nnot the docs")
	if !known || cmd.Raw != "focus on the tests,\nnot the docs" {
		t.Errorf("raw = %q (known=%v)", cmd.Raw, known)
	}

	if _, known = Parse("/frobnicate"); known {
		t.Error("unknown command reported as known")
	}
}

func TestDispatchUnknown(t *testing.T) {
	env := newEnv(t)
	res := Dispatch(context.Background(), env.deps, Request{ChatID: "c", Cmd: Command{Name: "frobnicate"}})
	if res.Success || !strings.Contains(res.Message, "/help") {
		t.Errorf("res = %+v", res)
	}
}

func TestHelpListsSurface(t *testing.T) {
	env := newEnv(t)
	res := env.run(t, "c", "/help")
	if !res.Success {
		t.Fatal(res.Message)
	}
	for name := range names {
		if !strings.Contains(res.Message, name) {
			t.Errorf("help is missing /%s", name)
		}
	}
}

var _ ChatLister = (*transport.Adapter)(nil)
