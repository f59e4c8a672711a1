package commands

import (
	"path/filepath"

	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/routes"
)

func cmdBind(d *Deps, req Request) Result {
	args := req.Cmd.Args
	if len(args) == 0 {
		suggestion := d.Routes.Suggest(req.ChatID)
		return ok("usage: /bind <path> [--kind agent|client] [--label <name>]\nsuggestion: /bind %s",
			filepath.Join(d.Routes.Root(), suggestion))
	}

	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.Routes.Root(), path)
	}
	entry := routes.Entry{ChatID: req.ChatID, WorkspacePath: path, RuntimeKind: config.KindAgent}
	for i := 1; i < len(args)-1; i++ {
		switch args[i] {
		case "--kind":
			entry.RuntimeKind = args[i+1]
		case "--label":
			entry.Label = args[i+1]
		}
	}
	if entry.RuntimeKind != config.KindAgent && entry.RuntimeKind != config.KindClient {
		return failf("kind must be agent or client, got %q", entry.RuntimeKind)
	}

	if err := d.Routes.Put(entry); err != nil {
		return failf("bind failed: %v", err)
	}
	bound, _ := d.Routes.Get(req.ChatID)
	return ok("bound to %s (%s)", bound.WorkspacePath, bound.RuntimeKind)
}

func cmdWhere(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	msg := e.WorkspacePath + " (" + e.RuntimeKind + ")"
	if e.Label != "" {
		msg += " — " + e.Label
	}
	return ok("%s", msg)
}

func cmdUnbind(d *Deps, req Request) Result {
	if err := d.Routes.Archive(req.ChatID); err != nil {
		return failf("unbind failed: %v", err)
	}
	return ok("unbound — the binding is archived, /bind to rebind")
}
