package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msgcode/msgcode/internal/agent"
	"github.com/msgcode/msgcode/internal/client"
	"github.com/msgcode/msgcode/internal/commands"
	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/ingress"
	"github.com/msgcode/msgcode/internal/interventions"
	"github.com/msgcode/msgcode/internal/logging"
	"github.com/msgcode/msgcode/internal/memory"
	"github.com/msgcode/msgcode/internal/providers"
	"github.com/msgcode/msgcode/internal/routes"
	"github.com/msgcode/msgcode/internal/runtime"
	"github.com/msgcode/msgcode/internal/schedule"
	"github.com/msgcode/msgcode/internal/sessionpool"
	"github.com/msgcode/msgcode/internal/state"
	"github.com/msgcode/msgcode/internal/tools"
	"github.com/msgcode/msgcode/internal/transport"
)

// Exit codes: 0 clean shutdown, 1 runtime failure, 2 invalid config,
// 3 missing precondition (transport binary).
const (
	exitOK         = 0
	exitRuntime    = 1
	exitBadConfig  = 2
	exitMissingDep = 3
)

const desktopIdleTimeout = 10 * time.Minute

func runStart() int {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "msgcode: config: %v\n", err)
		return exitBadConfig
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	if err := logging.Setup(logging.Options{
		Dir:     filepath.Join(config.Dir(), "log"),
		Level:   level,
		Console: cfg.Log.Console || verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "msgcode: logging: %v\n", err)
		return exitRuntime
	}

	if _, err := exec.LookPath(cfg.TransportBin); err != nil {
		fmt.Fprintf(os.Stderr, "msgcode: transport binary %q not found in PATH — install it or set transport_bin\n", cfg.TransportBin)
		return exitMissingDep
	}

	rt, err := routes.Load(filepath.Join(config.Dir(), "routes.json"), cfg.WorkspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "msgcode: routes: %v\n", err)
		return exitRuntime
	}
	cursors, err := state.Load(filepath.Join(config.Dir(), "state.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "msgcode: state: %v\n", err)
		return exitRuntime
	}

	callTimeout := time.Duration(cfg.Ingress.CallTimeoutMs) * time.Millisecond
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	adapter := transport.New(cfg.TransportBin, callTimeout)
	defer adapter.Close()

	confirm := tools.NewConfirmRegistry()
	pool := sessionpool.New(cfg.DesktopctlBin, desktopIdleTimeout, confirm)
	defer pool.StopAll()
	bus := tools.NewBus(pool, confirm)

	ivq := interventions.New()
	provider := providers.NewOpenAI(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)
	agentLoop := agent.New(provider, bus, ivq)

	var embedder memory.Embedder
	if cfg.Embed.BaseURL != "" {
		embedder = memory.NewHTTPEmbedder(cfg.Embed.BaseURL, cfg.Embed.Model)
	} else {
		slog.Info("embedding endpoint not configured, memory recall is text-only")
	}

	var pmu sync.Mutex
	pipelines := make(map[string]*client.Pipeline)
	pipelineFor := func(ws string) *client.Pipeline {
		pmu.Lock()
		defer pmu.Unlock()
		if p, ok := pipelines[ws]; ok {
			return p
		}
		p := client.New(cfg.TmuxBin, ws, config.WorkspaceFor(ws).Tmux.Client)
		pipelines[ws] = p
		return p
	}

	deps := &commands.Deps{
		Version:       Version,
		Config:        cfg,
		ConfigPath:    cfgPath,
		Routes:        rt,
		Cursors:       cursors,
		Transport:     adapter,
		Bus:           bus,
		Desktop:       pool,
		Interventions: ivq,
		Client:        func(ws string) commands.ClientSession { return pipelineFor(ws) },
	}

	orch := runtime.New(runtime.Options{
		Config:        cfg,
		Routes:        rt,
		Send:          adapter,
		Agent:         agentLoop,
		Interventions: ivq,
		Commands:      deps,
		ClientFor:     func(ws string) runtime.ClientRunner { return pipelineFor(ws) },
		Embedder:      embedder,
	})
	deps.Window = orch.Window
	deps.Journal = orch.Journal
	deps.Memory = orch.Memory

	loop := ingress.NewLoop(cfg.Ingress, adapter, ingress.NewGate(), cursors, cfg.Owners(), cfg.OwnerOnlyInGroup, orch.Handle)
	deps.Ingress = loop

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// One scheduler per bound workspace; created lazily so /bind picks them
	// up without a restart, pre-created for bindings that survive a restart.
	var smu sync.Mutex
	scheds := make(map[string]*schedule.Scheduler)
	schedFor := func(ws string) *schedule.Scheduler {
		smu.Lock()
		defer smu.Unlock()
		if s, ok := scheds[ws]; ok {
			return s
		}
		s := schedule.New(ws, loop.EnqueueSynthetic)
		scheds[ws] = s
		g.Go(func() error { return s.Run(ctx) })
		g.Go(func() error { return s.Watch(ctx) })
		return s
	}
	deps.Scheduler = schedFor
	for _, e := range rt.List() {
		if e.Status == routes.StatusActive {
			schedFor(e.WorkspacePath)
		}
	}

	pidPath := filepath.Join(config.Dir(), "msgcode.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("pid file write failed", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	slog.Info("msgcode started",
		"version", Version,
		"owner", cfg.Owner,
		"workspaceRoot", cfg.WorkspaceRoot,
		"bindings", len(rt.List()),
		"provider", cfg.Provider.Name)

	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error {
		pool.Reap(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("msgcode stopped", "error", err)
		return exitRuntime
	}
	slog.Info("msgcode stopped")
	return exitOK
}
