package commands

import (
	"strings"

	"github.com/msgcode/msgcode/internal/prompt"
)

func cmdSoul(d *Deps, req Request) Result {
	args := req.Cmd.Args
	if len(args) == 0 {
		e, res, found := binding(d, req.ChatID)
		if !found {
			return res
		}
		s := prompt.ResolveSoul(e.WorkspacePath)
		if s.Source == prompt.SoulNone {
			return ok("no soul active — /soul list to see available ones")
		}
		return ok("soul: %s (%s, %d chars)", s.Path, s.Source, len(s.Content))
	}

	switch args[0] {
	case "list":
		names := prompt.ListSouls()
		if len(names) == 0 {
			return ok("no global souls installed")
		}
		return ok("souls: %s", strings.Join(names, ", "))
	case "use":
		if len(args) < 2 {
			return failf("usage: /soul use <name>")
		}
		if err := prompt.ActivateSoul(args[1]); err != nil {
			return failf("activate failed: %v", err)
		}
		return ok("soul %s activated — a workspace SOUL.md still takes precedence", args[1])
	}
	return failf("usage: /soul [list | use <name>]")
}
