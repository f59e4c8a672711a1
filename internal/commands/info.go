package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/msgcode/msgcode/internal/config"
)

const helpText = `commands:
/bind <path> · /where · /unbind — workspace binding
/help · /info · /chatlist — runtime info
/model [provider] · /policy [local-only|egress-allowed] · /pi [on|off]
/owner add|remove|list <id> · /owner-only on|off
/mem [text | search <query>] · /cursor · /reset-cursor
/soul [list | use <name>]
/schedule list|validate|enable|disable <id> · /reload
/toolstats · /tool allow [name] · /tool mode [explicit|autonomous]
/desktop ping|doctor|observe|shortcut|confirm|rpc
/steer <msg> · /next <msg>
/start · /stop · /status · /clear · /snapshot · /esc`

func cmdHelp() Result {
	return ok("%s", helpText)
}

func cmdInfo(d *Deps, req Request) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "msgcode %s\n", d.Version)
	fmt.Fprintf(&b, "owners: %d, owner-only in groups: %v\n",
		len(d.Config.Owners()), d.Config.OwnerOnlyInGroup)

	e, found := d.Routes.Get(req.ChatID)
	if !found {
		b.WriteString("this chat: not bound")
		return ok("%s", b.String())
	}
	ws := config.WorkspaceFor(e.WorkspacePath)
	fmt.Fprintf(&b, "this chat: %s (%s)\n", e.WorkspacePath, e.RuntimeKind)
	fmt.Fprintf(&b, "provider: %s, policy: %s, pi: %v, tooling: %s",
		ws.Agent.Provider, ws.Policy.Mode, ws.Pi.Enabled, ws.Tooling.Mode)
	if steers, followUps := d.Interventions.Pending(req.ChatID); steers+followUps > 0 {
		fmt.Fprintf(&b, "\npending: %d steer, %d follow-up", steers, followUps)
	}
	return ok("%s", b.String())
}

// cmdChatlist shows chats seen on the transport in the last day, annotated
// with their bindings.
func cmdChatlist(ctx context.Context, d *Deps) Result {
	bound := make(map[string]string)
	for _, e := range d.Routes.List() {
		if e.Status == "active" {
			bound[e.ChatID] = e.WorkspacePath
		}
	}

	seen := make(map[string]string)
	if d.Transport != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		msgs, err := d.Transport.List(ctx, time.Now().Add(-24*time.Hour))
		if err == nil {
			for _, m := range msgs {
				seen[m.ChatID] = firstWords(m.Text, 40)
			}
		}
	}
	for id := range bound {
		if _, ok := seen[id]; !ok {
			seen[id] = ""
		}
	}
	if len(seen) == 0 {
		return ok("no chats seen in the last 24h")
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%s", id)
		if ws, isBound := bound[id]; isBound {
			fmt.Fprintf(&b, " → %s", ws)
		}
		if snippet := seen[id]; snippet != "" {
			fmt.Fprintf(&b, "  %q", snippet)
		}
		b.WriteString("\n")
	}
	return ok("%s", strings.TrimRight(b.String(), "\n"))
}

func firstWords(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
