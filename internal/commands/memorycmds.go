package commands

import (
	"context"
	"fmt"
	"strings"
)

func cmdMem(ctx context.Context, d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	store := d.Memory(e.WorkspacePath)

	if len(req.Cmd.Args) == 0 {
		mode := "text-only"
		if store.VectorAvailable() {
			mode = "hybrid"
		}
		return ok("memory: %d chunks (%s) — /mem <text> to save, /mem search <query>",
			store.Count(ctx), mode)
	}

	if req.Cmd.Args[0] == "search" {
		query := strings.TrimSpace(strings.TrimPrefix(req.Cmd.Raw, "search"))
		if query == "" {
			return failf("usage: /mem search <query>")
		}
		hits := store.Search(ctx, query, 5)
		if len(hits) == 0 {
			return ok("no matches")
		}
		var b strings.Builder
		for i, h := range hits {
			fmt.Fprintf(&b, "%d. [%.2f %s] %s\n", i+1, h.Score,
				strings.Join(h.Reasons, "+"), firstWords(h.Text, 120))
		}
		return ok("%s", strings.TrimRight(b.String(), "\n"))
	}

	if err := store.Write(ctx, req.Cmd.Raw); err != nil {
		return failf("memory write failed: %v", err)
	}
	return ok("saved to memory")
}

func cmdCursor(d *Deps, req Request) Result {
	st := d.Cursors.Get(req.ChatID)
	if st.LastSeenRowid == 0 && st.MessageCount == 0 {
		return ok("cursor: unset")
	}
	return ok("cursor: rowid %d, %d messages, last seen %s",
		st.LastSeenRowid, st.MessageCount, st.LastSeenAt.Format("2006-01-02 15:04:05"))
}

func cmdResetCursor(d *Deps, req Request) Result {
	if err := d.Cursors.Reset(req.ChatID); err != nil {
		return failf("reset failed: %v", err)
	}
	return ok("cursor reset — older messages may be re-delivered on the next poll")
}
