package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/msgcode/msgcode/internal/errs"
	"github.com/msgcode/msgcode/internal/interventions"
	"github.com/msgcode/msgcode/internal/providers"
	"github.com/msgcode/msgcode/internal/tools"
)

// scriptedProvider returns canned responses round by round and records the
// message lists it was sent.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	seen      [][]providers.Message
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.seen = append(p.seen, req.Messages)
	if len(p.responses) == 0 {
		return &providers.ChatResponse{Content: "fallback"}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "m" }

type fakeBus struct {
	responses map[string]tools.Response
	executed  []string
}

func (b *fakeBus) Execute(_ context.Context, req tools.Request, _ tools.Policy) tools.Response {
	b.executed = append(b.executed, req.Tool)
	if r, ok := b.responses[req.Tool]; ok {
		return r
	}
	return tools.Succeed(&tools.Data{Result: "ok"})
}

func userTurn(text string) Turn {
	return Turn{
		ChatID:        "c",
		RequestID:     "r1",
		WorkspacePath: "/ws",
		Source:        "user",
		Messages:      []providers.Message{{Role: "user", Content: text}},
		ToolsEnabled:  true,
	}
}

func call(name string, args map[string]any) providers.ToolCall {
	return providers.ToolCall{ID: "call_" + name, Name: name, Args: args}
}

func TestPlainReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "hello!"}}}
	l := New(p, &fakeBus{}, nil)
	reply, err := l.Run(context.Background(), userTurn("hi"))
	if err != nil || reply != "hello!" {
		t.Errorf("reply = %q, err = %v", reply, err)
	}
}

func TestToolRoundThenReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{call("bash", map[string]any{"command": "ls"})}},
		{Content: "there are 3 files"},
	}}
	bus := &fakeBus{}
	l := New(p, bus, nil)

	reply, err := l.Run(context.Background(), userTurn("list files"))
	if err != nil || reply != "there are 3 files" {
		t.Fatalf("reply = %q, err = %v", reply, err)
	}
	if len(bus.executed) != 1 || bus.executed[0] != "bash" {
		t.Errorf("executed = %v", bus.executed)
	}
	// Round 2 must carry the assistant tool-call message and the tool result.
	last := p.seen[1]
	if last[len(last)-1].Role != "tool" || last[len(last)-2].Role != "assistant" {
		t.Errorf("round 2 tail roles = %s, %s", last[len(last)-2].Role, last[len(last)-1].Role)
	}
}

func TestFailShort(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			call("bash", map[string]any{"command": "curl x"}),
			call("read_file", map[string]any{"path": "a"}),
		}},
		{Content: "should never be reached"},
	}}
	bus := &fakeBus{responses: map[string]tools.Response{
		"bash": tools.Fail(errs.New(errs.ToolNotAllowed, "egress denied")),
	}}
	l := New(p, bus, nil)

	_, err := l.Run(context.Background(), userTurn("fetch"))
	if errs.CodeOf(err) != errs.ToolNotAllowed {
		t.Fatalf("err = %v", err)
	}
	// Fail-short: the second call never executed, no summarization round ran.
	if len(bus.executed) != 1 {
		t.Errorf("executed = %v", bus.executed)
	}
	if len(p.seen) != 1 {
		t.Errorf("provider rounds = %d, want 1", len(p.seen))
	}
}

func TestEmptyResponse(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{}}}
	l := New(p, &fakeBus{}, nil)
	_, err := l.Run(context.Background(), userTurn("hi"))
	if errs.CodeOf(err) != errs.EmptyResponse {
		t.Errorf("err = %v", err)
	}
}

func TestRoundCeiling(t *testing.T) {
	// The model keeps asking for tools forever.
	var responses []*providers.ChatResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, &providers.ChatResponse{
			ToolCalls: []providers.ToolCall{call("bash", map[string]any{"command": "true"})},
		})
	}
	p := &scriptedProvider{responses: responses}
	l := New(p, &fakeBus{}, nil)

	_, err := l.Run(context.Background(), userTurn("loop"))
	if err == nil {
		t.Fatal("expected round-ceiling error")
	}
	if len(p.seen) != defaultMaxRounds {
		t.Errorf("provider rounds = %d, want %d", len(p.seen), defaultMaxRounds)
	}
}

func TestSteerShortCircuitsRemainingCalls(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			call("bash", map[string]any{"command": "sleep 100"}),
			call("write_file", map[string]any{"path": "a", "content": "x"}),
		}},
		{Content: "changed course"},
	}}
	bus := &fakeBus{}
	q := interventions.New()
	q.PushSteer("c", "stop, do something else")
	l := New(p, bus, q)

	reply, err := l.Run(context.Background(), userTurn("do the thing"))
	if err != nil || reply != "changed course" {
		t.Fatalf("reply = %q, err = %v", reply, err)
	}
	// Steer arrived before the first call: nothing executed.
	if len(bus.executed) != 0 {
		t.Errorf("executed = %v", bus.executed)
	}
	// The steer text became the next user message.
	round2 := p.seen[1]
	foundSteer := false
	for _, m := range round2 {
		if m.Role == "user" && m.Content == "stop, do something else" {
			foundSteer = true
		}
	}
	if !foundSteer {
		t.Error("steer message not injected into round 2")
	}
	// Skipped calls still got tool results so the transcript stays valid.
	skipped := 0
	for _, m := range round2 {
		if m.Role == "tool" && strings.Contains(m.Content, "skipped") {
			skipped++
		}
	}
	if skipped != 2 {
		t.Errorf("skipped tool results = %d, want 2", skipped)
	}
}

func TestDesktopCallMapping(t *testing.T) {
	turn := userTurn("x")
	req := busRequest(turn, call("desktop", map[string]any{
		"method":        "click",
		"params":        map[string]any{"x": 1.0},
		"confirm_token": "tok",
	}))
	if req.Method != "click" || req.Params["x"] != 1.0 {
		t.Errorf("req = %+v", req)
	}
	if req.Confirm == nil || req.Confirm.Token != "tok" {
		t.Errorf("confirm = %+v", req.Confirm)
	}
}
