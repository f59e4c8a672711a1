// Package runtime is the orchestrator: it receives inbound turns from the
// ingress loop, routes commands, and drives the agent or client pipeline
// for the chat's bound workspace.
package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/msgcode/msgcode/internal/agent"
	"github.com/msgcode/msgcode/internal/bus"
	"github.com/msgcode/msgcode/internal/client"
	"github.com/msgcode/msgcode/internal/commands"
	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/interventions"
	"github.com/msgcode/msgcode/internal/journal"
	"github.com/msgcode/msgcode/internal/memory"
	"github.com/msgcode/msgcode/internal/prompt"
	"github.com/msgcode/msgcode/internal/routes"
	"github.com/msgcode/msgcode/internal/tools"
	"github.com/msgcode/msgcode/internal/transport"
	"github.com/msgcode/msgcode/internal/window"
)

// Inbound messages larger than this are truncated with a notice; the
// assembler would cut them anyway, this keeps the journal honest too.
const maxInboundChars = 32000

// Replier is the transport slice the orchestrator answers through.
type Replier interface {
	Send(ctx context.Context, chatID, text, attachmentPath string) (*transport.Ack, error)
}

// AgentRunner is the tool loop.
type AgentRunner interface {
	Run(ctx context.Context, turn agent.Turn) (string, error)
}

// ClientRunner is the client pipeline surface for one workspace.
type ClientRunner interface {
	Send(ctx context.Context, text string) (client.Reply, error)
}

// Options wires an orchestrator.
type Options struct {
	Config        *config.Config
	Routes        *routes.Store
	Send          Replier
	Agent         AgentRunner
	Interventions *interventions.Queue
	Commands      *commands.Deps
	ClientFor     func(workspacePath string) ClientRunner
	Embedder      memory.Embedder // nil disables vector recall
}

// Orchestrator owns the per-workspace window, journal, and memory instances
// so commands and turns observe the same state.
type Orchestrator struct {
	cfg       *config.Config
	routes    *routes.Store
	send      Replier
	agent     AgentRunner
	ivq       *interventions.Queue
	cmds      *commands.Deps
	clientFor func(string) ClientRunner
	embedder  memory.Embedder

	mu       sync.Mutex
	windows  map[string]*window.Window
	journals map[string]*journal.Journal
	memories map[string]*memory.Store
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:       opts.Config,
		routes:    opts.Routes,
		send:      opts.Send,
		agent:     opts.Agent,
		ivq:       opts.Interventions,
		cmds:      opts.Commands,
		clientFor: opts.ClientFor,
		embedder:  opts.Embedder,
		windows:   make(map[string]*window.Window),
		journals:  make(map[string]*journal.Journal),
		memories:  make(map[string]*memory.Store),
	}
}

// Window returns the workspace's conversation window (shared with /clear).
func (o *Orchestrator) Window(ws string) *window.Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.windows[ws]
	if !ok {
		w = window.Open(ws)
		o.windows[ws] = w
	}
	return w
}

// Journal returns the workspace's thread journal (shared with /clear).
func (o *Orchestrator) Journal(ws string) *journal.Journal {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.journals[ws]
	if !ok {
		j = journal.Open(ws)
		o.journals[ws] = j
	}
	return j
}

// Memory returns the workspace's memory store (shared with /mem).
func (o *Orchestrator) Memory(ws string) *memory.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.memories[ws]
	if !ok {
		wcfg := config.WorkspaceFor(ws)
		m = memory.Open(ws, o.embedder, memory.Weights{
			Vector: wcfg.Memory.Fuse.VectorWeight,
			Text:   wcfg.Memory.Fuse.TextWeight,
		})
		o.memories[ws] = m
	}
	return m
}

// Handle processes one inbound turn. It satisfies ingress.Handler; per-chat
// ordering is the ingress loop's job, this method assumes it.
func (o *Orchestrator) Handle(ctx context.Context, msg bus.Inbound) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if commands.Identify(text) {
		o.handleCommand(ctx, msg.ChatID, text)
		return
	}

	entry, found := o.routes.Get(msg.ChatID)
	if !found {
		o.reply(ctx, msg.ChatID, "this chat is not bound to a workspace — /bind <path> to start")
		return
	}

	forceMem := false
	if strings.Contains(text, "--force-mem") {
		forceMem = true
		text = strings.TrimSpace(strings.Join(strings.Fields(strings.ReplaceAll(text, "--force-mem", " ")), " "))
	}
	if len(text) > maxInboundChars {
		const notice = "[message truncated]"
		cut := maxInboundChars - len(notice) - 1
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n" + notice
	}

	if entry.RuntimeKind == config.KindClient {
		o.runClient(ctx, entry, text)
		return
	}
	o.runAgent(ctx, entry, msg.ChatID, msg.Source, text, forceMem)
}

func (o *Orchestrator) handleCommand(ctx context.Context, chatID, text string) {
	cmd, known := commands.Parse(text)
	var res commands.Result
	if !known {
		res = commands.Result{Message: "unknown command /" + cmd.Name + " — try /help"}
	} else {
		res = commands.Dispatch(ctx, o.cmds, commands.Request{ChatID: chatID, Cmd: cmd})
	}
	slog.Info("command", "chat", chatID, "name", cmd.Name, "success", res.Success)
	o.reply(ctx, chatID, res.Message)
}

// runClient hands the text to the tmux-hosted CLI. No soul, memory, or
// tools are involved on this path.
func (o *Orchestrator) runClient(ctx context.Context, entry routes.Entry, text string) {
	rep, err := o.clientFor(entry.WorkspacePath).Send(ctx, text)
	if err != nil {
		o.reply(ctx, entry.ChatID, "client session failed: "+err.Error())
		return
	}
	out := rep.Text
	switch {
	case rep.TimedOut && rep.Partial:
		out += "\n[partial — the session did not finish in time]"
	case rep.TimedOut:
		out = "[no reply from the session before the timeout]"
	}
	o.reply(ctx, entry.ChatID, out)

	if rep.Success {
		o.journalTurn(entry.WorkspacePath, entry.ChatID, text, rep.Text, journal.Meta{
			RuntimeKind: config.KindClient,
			TmuxClient:  config.WorkspaceFor(entry.WorkspacePath).Tmux.Client,
		})
	}
}

// runAgent assembles context, runs the tool loop, replies, persists, and
// re-enters for queued follow-ups.
func (o *Orchestrator) runAgent(ctx context.Context, entry routes.Entry, chatID, source, text string, forceMem bool) {
	ws := entry.WorkspacePath
	wcfg := config.WorkspaceFor(ws)
	requestID := uuid.NewString()
	if source == "" {
		source = bus.SourceUser
	}

	var hits []memory.Hit
	if wcfg.Memory.Inject.Enabled || forceMem {
		hits = o.Memory(ws).Search(ctx, text, wcfg.Memory.Inject.TopK)
	}

	win := o.Window(ws)
	msgs, stats := prompt.Assemble(prompt.Input{
		Soul:        prompt.ResolveSoul(ws),
		Summary:     win.Summary(),
		MemoryHits:  hits,
		MemoryCap:   wcfg.Memory.Inject.MaxChars,
		WindowTurns: win.Turns(),
		UserText:    text,
		PiEnabled:   wcfg.Pi.Enabled,
	})
	slog.Info("turn: assembled",
		"chat", chatID, "requestId", requestID, "source", source,
		"soulSource", stats.SoulSource, "soulPath", stats.SoulPath,
		"soulChars", stats.SoulChars,
		"memoryInjected", stats.MemoryInjected,
		"memoryHitCount", stats.MemoryHitCount,
		"memoryInjectedChars", stats.MemoryInjectedChars,
		"windowTurns", stats.WindowTurns)

	replyText, err := o.agent.Run(ctx, agent.Turn{
		ChatID:        chatID,
		RequestID:     requestID,
		WorkspacePath: ws,
		Source:        source,
		Policy:        tools.PolicyFromWorkspace(wcfg),
		Messages:      msgs,
		ToolsEnabled:  wcfg.Pi.Enabled,
	})
	if err != nil {
		slog.Warn("turn: failed", "chat", chatID, "requestId", requestID, "error", err)
		o.reply(ctx, chatID, err.Error())
		return
	}
	o.reply(ctx, chatID, replyText)

	o.journalTurn(ws, chatID, text, replyText, journal.Meta{
		RuntimeKind:   config.KindAgent,
		AgentProvider: wcfg.Agent.Provider,
	})
	win.Append(text, replyText, time.Now())
	if err := o.Memory(ws).Write(ctx, "user: "+text+"\nassistant: "+replyText); err != nil {
		slog.Warn("memory: turn write failed", "chat", chatID, "error", err)
	}

	// A queued /next re-enters as the next user message, same thread.
	if iv, ok := o.ivq.PopFollowUp(chatID); ok {
		slog.Info("turn: follow-up re-entry", "chat", chatID)
		o.runAgent(ctx, entry, chatID, bus.SourceFollowUp, iv.Message, false)
	}
}

// journalTurn persists one exchange. Failures are logged, never surfaced:
// the reply already went out.
func (o *Orchestrator) journalTurn(ws, chatID, userText, assistantText string, meta journal.Meta) {
	j := o.Journal(ws)
	th, err := j.EnsureThread(chatID, userText, meta)
	if err != nil {
		slog.Warn("journal: ensure thread failed", "chat", chatID, "error", err)
		return
	}
	if err := j.AppendTurn(th, userText, assistantText, time.Now()); err != nil {
		slog.Warn("journal: append failed", "chat", chatID, "error", err)
	}
}

func (o *Orchestrator) reply(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	if _, err := o.send.Send(ctx, chatID, text, ""); err != nil {
		slog.Error("reply send failed", "chat", chatID, "error", err)
	}
}
