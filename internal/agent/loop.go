// Package agent runs the finite tool loop for agent-kind workspaces.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/msgcode/msgcode/internal/errs"
	"github.com/msgcode/msgcode/internal/interventions"
	"github.com/msgcode/msgcode/internal/providers"
	"github.com/msgcode/msgcode/internal/tools"
)

const defaultMaxRounds = 8

// ToolExecutor is the bus surface the loop calls.
type ToolExecutor interface {
	Execute(ctx context.Context, req tools.Request, pol tools.Policy) tools.Response
}

// SteerSource drains /steer messages between tool executions.
type SteerSource interface {
	PopSteer(chatID string) (interventions.Intervention, bool)
}

// Turn is one request through the loop.
type Turn struct {
	ChatID        string
	RequestID     string
	WorkspacePath string
	Source        string
	Policy        tools.Policy
	Messages      []providers.Message
	ToolsEnabled  bool // pi.enabled
}

// Loop drives provider rounds and tool execution.
type Loop struct {
	provider  providers.Provider
	bus       ToolExecutor
	steers    SteerSource
	maxRounds int
}

// New wires a loop. steers may be nil (schedule-sourced turns have no
// intervention surface).
func New(provider providers.Provider, bus ToolExecutor, steers SteerSource) *Loop {
	return &Loop{provider: provider, bus: bus, steers: steers, maxRounds: defaultMaxRounds}
}

// Run executes up to maxRounds provider rounds and returns the final reply
// text. Any structured tool failure ends the loop immediately (fail-short):
// the caller renders the error, the model never gets to paper over it.
func (l *Loop) Run(ctx context.Context, turn Turn) (string, error) {
	messages := append([]providers.Message(nil), turn.Messages...)
	var defs []providers.ToolDef
	if turn.ToolsEnabled {
		defs = toolDefs()
	}

	for round := 1; round <= l.maxRounds; round++ {
		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return "", errs.Wrap(errs.ProviderError, err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				return "", errs.New(errs.EmptyResponse,
					"provider returned neither content nor tool calls")
			}
			return resp.Content, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for i, call := range resp.ToolCalls {
			// A /steer short-circuits the remaining calls of this round.
			if l.steers != nil {
				if iv, ok := l.steers.PopSteer(turn.ChatID); ok {
					slog.Info("agent: steer received, short-circuiting round",
						"chat", turn.ChatID, "skippedCalls", len(resp.ToolCalls)-i)
					for _, skipped := range resp.ToolCalls[i:] {
						messages = append(messages, toolResultMsg(skipped.ID,
							`{"skipped":"interrupted by user steer"}`))
					}
					messages = append(messages, providers.Message{Role: "user", Content: iv.Message})
					break
				}
			}

			toolResp := l.bus.Execute(ctx, busRequest(turn, call), turn.Policy)
			if !toolResp.OK {
				return "", toolResp.Err
			}
			messages = append(messages, toolResultMsg(call.ID, renderData(toolResp)))
		}
	}
	return "", errs.New(errs.ToolExecFailed,
		"tool loop did not converge within %d rounds", l.maxRounds).
		With("rounds", l.maxRounds)
}

// busRequest maps a model tool call onto a bus request. The desktop tool
// nests its method, params and confirm token inside the call args.
func busRequest(turn Turn, call providers.ToolCall) tools.Request {
	req := tools.Request{
		Tool:   call.Name,
		Params: call.Args,
		Meta: tools.Meta{
			SchemaVersion: 1,
			RequestID:     turn.RequestID,
			WorkspacePath: turn.WorkspacePath,
			Source:        turn.Source,
		},
	}
	if call.Name == tools.ToolDesktop {
		if m, _ := call.Args["method"].(string); m != "" {
			req.Method = m
		}
		if p, ok := call.Args["params"].(map[string]any); ok {
			req.Params = p
		}
		if tok, _ := call.Args["confirm_token"].(string); tok != "" {
			req.Confirm = &tools.Confirm{Token: tok}
		}
	}
	return req
}

func toolResultMsg(callID, content string) providers.Message {
	return providers.Message{Role: "tool", ToolCallID: callID, Content: content}
}

// renderData serializes a successful tool response for the model.
func renderData(resp tools.Response) string {
	payload := map[string]any{"ok": true}
	if resp.Data != nil {
		payload["exitCode"] = resp.Data.ExitCode
		if resp.Data.Stdout != "" {
			payload["stdout"] = resp.Data.Stdout
		}
		if resp.Data.Stderr != "" {
			payload["stderr"] = resp.Data.Stderr
		}
		if resp.Data.Result != nil {
			payload["result"] = resp.Data.Result
		}
	}
	if len(resp.Artifacts) > 0 {
		payload["artifacts"] = resp.Artifacts
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return `{"ok":true}`
	}
	return string(out)
}
