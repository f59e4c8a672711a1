package commands

import (
	"fmt"
	"strings"

	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/tools"
)

func cmdToolstats(d *Deps) Result {
	stats := d.Bus.Stats()
	if len(stats) == 0 {
		return ok("no tool calls yet")
	}
	var b strings.Builder
	for _, s := range stats {
		fmt.Fprintf(&b, "%s: %d calls, %d errors, %s total\n",
			s.Tool, s.Calls, s.Errors, s.Duration.Round(1e6))
	}
	return ok("%s", strings.TrimRight(b.String(), "\n"))
}

func cmdTool(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	ws := config.LoadWorkspace(e.WorkspacePath)
	args := req.Cmd.Args
	if len(args) == 0 {
		return failf("usage: /tool allow [name] | /tool mode [explicit|autonomous]")
	}

	switch args[0] {
	case "allow":
		if len(args) == 1 {
			if len(ws.Tooling.Allow) == 0 {
				return ok("allow-list empty — /tool allow <name> (%s)",
					strings.Join(tools.AllTools(), ", "))
			}
			return ok("allowed: %s", strings.Join(ws.Tooling.Allow, ", "))
		}
		name := args[1]
		valid := false
		for _, t := range tools.AllTools() {
			if t == name {
				valid = true
				break
			}
		}
		if !valid {
			return failf("unknown tool %q — one of %s", name, strings.Join(tools.AllTools(), ", "))
		}
		for _, t := range ws.Tooling.Allow {
			if t == name {
				return ok("%s already allowed", name)
			}
		}
		ws.Tooling.Allow = append(ws.Tooling.Allow, name)
		if err := config.SaveWorkspace(e.WorkspacePath, ws); err != nil {
			return failf("save failed: %v", err)
		}
		return ok("allowed: %s", strings.Join(ws.Tooling.Allow, ", "))

	case "mode":
		if len(args) == 1 {
			return ok("tooling mode: %s", ws.Tooling.Mode)
		}
		mode := args[1]
		if mode != config.ToolingExplicit && mode != config.ToolingAutonomous {
			return failf("mode must be %s or %s", config.ToolingExplicit, config.ToolingAutonomous)
		}
		ws.Tooling.Mode = mode
		if err := config.SaveWorkspace(e.WorkspacePath, ws); err != nil {
			return failf("save failed: %v", err)
		}
		return ok("tooling mode: %s", mode)
	}
	return failf("usage: /tool allow [name] | /tool mode [explicit|autonomous]")
}
