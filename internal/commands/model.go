package commands

import (
	"github.com/msgcode/msgcode/internal/config"
)

// Workspace config edits are written to <ws>/.msgcode/config.json; the
// orchestrator re-reads it per turn, so they take effect on the next message.

func cmdModel(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	ws := config.LoadWorkspace(e.WorkspacePath)
	if len(req.Cmd.Args) == 0 {
		return ok("provider: %s (runtime %s)", ws.Agent.Provider, ws.Runtime.Kind)
	}
	ws.Agent.Provider = req.Cmd.Args[0]
	if err := config.SaveWorkspace(e.WorkspacePath, ws); err != nil {
		return failf("save failed: %v", err)
	}
	return ok("provider set to %s", ws.Agent.Provider)
}

func cmdPolicy(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	ws := config.LoadWorkspace(e.WorkspacePath)
	if len(req.Cmd.Args) == 0 {
		return ok("policy: %s", ws.Policy.Mode)
	}
	mode := req.Cmd.Args[0]
	if mode != config.PolicyLocalOnly && mode != config.PolicyEgressAllowed {
		return failf("policy must be %s or %s", config.PolicyLocalOnly, config.PolicyEgressAllowed)
	}
	ws.Policy.Mode = mode
	if err := config.SaveWorkspace(e.WorkspacePath, ws); err != nil {
		return failf("save failed: %v", err)
	}
	return ok("policy set to %s", mode)
}

func cmdPi(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	ws := config.LoadWorkspace(e.WorkspacePath)
	if len(req.Cmd.Args) == 0 {
		return ok("pi (tool loop): %v", ws.Pi.Enabled)
	}
	switch req.Cmd.Args[0] {
	case "on":
		ws.Pi.Enabled = true
	case "off":
		ws.Pi.Enabled = false
	default:
		return failf("usage: /pi on|off")
	}
	if err := config.SaveWorkspace(e.WorkspacePath, ws); err != nil {
		return failf("save failed: %v", err)
	}
	return ok("pi %s", req.Cmd.Args[0])
}
