package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/tools"
)

const confirmTTL = 2 * time.Minute

func cmdDesktop(ctx context.Context, d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	args := req.Cmd.Args
	if len(args) == 0 {
		return failf("usage: /desktop ping|doctor|observe|shortcut|confirm|rpc")
	}

	switch args[0] {
	case "ping", "doctor", "observe":
		return desktopCall(ctx, d, e.WorkspacePath, "desktop."+args[0], nil, "")

	case "shortcut":
		if len(args) < 2 {
			return failf("usage: /desktop shortcut <keys> (e.g. cmd+shift+4)")
		}
		token := flagValue(args, "--confirm-token")
		return desktopCall(ctx, d, e.WorkspacePath, "desktop.hotkey",
			map[string]any{"keys": args[1]}, token)

	case "confirm":
		if len(args) < 2 {
			return failf("usage: /desktop confirm <method> [params-json]")
		}
		method := args[1]
		params, perr := jsonTail(req.Cmd.Raw)
		if perr != nil {
			return failf("bad params: %v", perr)
		}
		sessionID, err := d.Desktop.SessionID(ctx, e.WorkspacePath)
		if err != nil {
			return failf("no desktop session: %v", err)
		}
		token := d.Bus.Confirm().Issue(sessionID, tools.Intent{Method: method, Params: params}, confirmTTL)
		return ok("token: %s (valid %s, this session only)\nrun: /desktop rpc %s --confirm-token %s %s",
			token, confirmTTL, method, token, compactJSON(params))

	case "rpc":
		if len(args) < 2 {
			return failf("usage: /desktop rpc <method> [--confirm-token <t>] [params-json]")
		}
		method := args[1]
		token := flagValue(args, "--confirm-token")
		params, perr := jsonTail(req.Cmd.Raw)
		if perr != nil {
			return failf("bad params: %v", perr)
		}
		return desktopCall(ctx, d, e.WorkspacePath, method, params, token)
	}
	return failf("usage: /desktop ping|doctor|observe|shortcut|confirm|rpc")
}

// desktopCall routes through the tool bus so the same policy gate applies
// to command-issued calls and agent-issued ones.
func desktopCall(ctx context.Context, d *Deps, workspacePath, method string, params map[string]any, token string) Result {
	if params == nil {
		params = map[string]any{}
	}
	treq := tools.Request{
		Tool:   tools.ToolDesktop,
		Method: method,
		Params: params,
		Meta: tools.Meta{
			SchemaVersion: 1,
			RequestID:     uuid.NewString(),
			WorkspacePath: workspacePath,
			Source:        "command",
		},
	}
	if token != "" {
		treq.Confirm = &tools.Confirm{Token: token}
	}
	pol := tools.PolicyFromWorkspace(config.WorkspaceFor(workspacePath))
	return renderToolResponse(d.Bus.Execute(ctx, treq, pol))
}

func renderToolResponse(resp tools.Response) Result {
	if !resp.OK {
		return failf("%v", resp.Err)
	}
	var b strings.Builder
	if resp.Data != nil {
		if resp.Data.Stdout != "" {
			b.WriteString(strings.TrimRight(resp.Data.Stdout, "\n"))
		}
		if resp.Data.Result != nil {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(compactJSON(resp.Data.Result))
		}
	}
	for _, a := range resp.Artifacts {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", a.Kind, a.Path)
	}
	if b.Len() == 0 {
		return ok("ok")
	}
	return ok("%s", b.String())
}

// jsonTail parses the trailing JSON object of a command line, if any.
func jsonTail(raw string) (map[string]any, error) {
	i := strings.Index(raw, "{")
	if i < 0 {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw[i:]), &params); err != nil {
		return nil, err
	}
	return params, nil
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
