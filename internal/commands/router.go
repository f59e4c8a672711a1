// Package commands implements the slash-command surface. Identification,
// parsing, and dispatch are three separate pure functions; the handlers in
// the per-domain files do the actual work against injected dependencies.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

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

// Result is what every command returns to the chat.
type Result struct {
	Success bool
	Message string
}

// Command is a parsed slash command. Raw preserves the remainder after the
// command word so message-bearing commands (/steer, /mem) keep their text
// verbatim, newlines included.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// names is the closed command surface. Identify, Parse, and Dispatch all
// consult it; adding a command touches this table and the dispatch switch.
var names = map[string]bool{
	"bind": true, "where": true, "unbind": true,
	"help": true, "info": true, "chatlist": true,
	"model": true, "policy": true, "pi": true,
	"owner": true, "owner-only": true,
	"mem": true, "cursor": true, "reset-cursor": true,
	"soul": true,
	"schedule": true, "reload": true,
	"toolstats": true, "tool": true,
	"desktop": true,
	"steer": true, "next": true,
	"start": true, "stop": true, "status": true,
	"clear": true, "snapshot": true, "esc": true,
}

// Identify reports whether a message is addressed to the command surface.
func Identify(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 || t[0] != '/' {
		return false
	}
	return unicode.IsLetter(rune(t[1]))
}

// Parse splits a command message into name, args, and raw remainder. The
// second return is false for unknown command names.
func Parse(text string) (Command, bool) {
	t := strings.TrimSpace(text)
	if !Identify(t) {
		return Command{}, false
	}
	word := t
	if i := strings.IndexFunc(t, unicode.IsSpace); i >= 0 {
		word = t[:i]
	}
	cmd := Command{
		Name: strings.ToLower(strings.TrimPrefix(word, "/")),
		Raw:  strings.TrimSpace(strings.TrimPrefix(t, word)),
	}
	if cmd.Raw != "" {
		cmd.Args = strings.Fields(cmd.Raw)
	}
	return cmd, names[cmd.Name]
}

// ChatLister is the transport slice /chatlist reads from.
type ChatLister interface {
	List(ctx context.Context, since time.Time) ([]transport.Message, error)
}

// ClientSession is the client-pipeline surface the session commands drive.
type ClientSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Capture(ctx context.Context) (string, error)
	SendEscape(ctx context.Context) error
	Alive(ctx context.Context) bool
}

// OwnerSink receives runtime whitelist changes (the ingress loop).
type OwnerSink interface {
	SetOwners(owners []string)
	SetOwnerOnly(on bool)
}

// Deps are the injected collaborators. Per-workspace resources are factory
// functions so handlers always act on the chat's bound workspace.
type Deps struct {
	Version    string
	Config     *config.Config
	ConfigPath string

	Routes    *routes.Store
	Cursors   *state.Store
	Transport ChatLister

	Bus           *tools.Bus
	Desktop       tools.DesktopRunner
	Interventions *interventions.Queue
	Ingress       OwnerSink

	Scheduler func(workspacePath string) *schedule.Scheduler
	Client    func(workspacePath string) ClientSession
	Memory    func(workspacePath string) *memory.Store
	Window    func(workspacePath string) *window.Window
	Journal   func(workspacePath string) *journal.Journal
}

// Request is one command invocation in a chat.
type Request struct {
	ChatID string
	Cmd    Command
}

// Dispatch routes a parsed command to its handler. It holds no business
// logic itself.
func Dispatch(ctx context.Context, d *Deps, req Request) Result {
	switch req.Cmd.Name {
	case "bind":
		return cmdBind(d, req)
	case "where":
		return cmdWhere(d, req)
	case "unbind":
		return cmdUnbind(d, req)
	case "help":
		return cmdHelp()
	case "info":
		return cmdInfo(d, req)
	case "chatlist":
		return cmdChatlist(ctx, d)
	case "model":
		return cmdModel(d, req)
	case "policy":
		return cmdPolicy(d, req)
	case "pi":
		return cmdPi(d, req)
	case "owner":
		return cmdOwner(d, req)
	case "owner-only":
		return cmdOwnerOnly(d, req)
	case "mem":
		return cmdMem(ctx, d, req)
	case "cursor":
		return cmdCursor(d, req)
	case "reset-cursor":
		return cmdResetCursor(d, req)
	case "soul":
		return cmdSoul(d, req)
	case "schedule":
		return cmdSchedule(d, req)
	case "reload":
		return cmdReload(d, req)
	case "toolstats":
		return cmdToolstats(d)
	case "tool":
		return cmdTool(d, req)
	case "desktop":
		return cmdDesktop(ctx, d, req)
	case "steer":
		return cmdSteer(d, req)
	case "next":
		return cmdNext(d, req)
	case "start":
		return cmdStart(ctx, d, req)
	case "stop":
		return cmdStop(ctx, d, req)
	case "status":
		return cmdStatus(ctx, d, req)
	case "clear":
		return cmdClear(d, req)
	case "snapshot":
		return cmdSnapshot(ctx, d, req)
	case "esc":
		return cmdEsc(ctx, d, req)
	}
	return failf("unknown command /%s — try /help", req.Cmd.Name)
}

func ok(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failf(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// binding resolves the chat's active workspace binding; most handlers
// require one.
func binding(d *Deps, chatID string) (routes.Entry, Result, bool) {
	e, found := d.Routes.Get(chatID)
	if !found {
		return routes.Entry{}, failf("this chat is not bound — use /bind <path>"), false
	}
	return e, Result{}, true
}
