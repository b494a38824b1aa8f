package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/pinnacle/internal/engine"
	"github.com/rendis/pinnacle/internal/flowclient"
	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/internal/persistence"
	"github.com/rendis/pinnacle/internal/session"
	"github.com/rendis/pinnacle/internal/spawn"
	pmcp "github.com/rendis/pinnacle/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run a headless editor session as an MCP server over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx)
	},
}

func runMCP(ctx context.Context) error {
	client, err := flowclient.New(cfg.BaseURL, flowclient.WithLogger(logger))
	if err != nil {
		return err
	}

	// The editor keeps its session cache apart from the server database.
	sessionDB := filepath.Join(filepath.Dir(cfg.DBPath), "session.db")
	st, err := openStore(ctx, sessionDB)
	if err != nil {
		return err
	}
	defer st.Close()

	hub, closeHub, err := openHub(cfg, logger)
	if err != nil {
		return err
	}
	defer closeHub()

	gs := graph.NewStore()
	canvas := graph.NewStoreCanvas(gs)
	ids := spawn.NewIDFunc(nil)
	gen := spawn.NewGenerator(ids)

	rules, err := spawn.CompileRules(cfg.Editor.SpawnRules...)
	if err != nil {
		return fmt.Errorf("spawn rules: %w", err)
	}
	watcherOpts := []spawn.WatcherOption{spawn.WithLogger(logger)}
	if cfg.Editor.ReplaceOnRetrigger {
		watcherOpts = append(watcherOpts, spawn.WithReplaceOnRetrigger())
	}
	watcher := spawn.NewWatcher(gs, gen, rules, watcherOpts...)
	watcher.Start()
	defer watcher.Stop()

	pm := persistence.NewManager(gs, canvas, session.NewStoreCache(st), client, gen, persistence.WithLogger(logger))
	tier, err := pm.Mount(ctx)
	if err != nil {
		return err
	}
	pm.Start()
	defer pm.Stop()
	logger.Info("editor mounted", "tier", string(tier))

	autosaver := persistence.NewAutosaver(pm, cfg.Editor.AutosaveSchedule, logger)
	if err := autosaver.Start(); err != nil {
		return err
	}
	defer autosaver.Stop()

	policy, err := engine.NewApprovalPolicy(cfg.Editor.ApprovalPolicy)
	if err != nil {
		return err
	}
	timeout, err := cfg.Editor.executionTimeout()
	if err != nil {
		return err
	}
	orchOpts := []engine.Option{
		engine.WithHub(hub),
		engine.WithPolicy(policy),
		engine.WithLogger(logger),
		engine.WithFlowID(func() string {
			id, _ := pm.CurrentFlow()
			return id
		}),
	}
	if timeout > 0 {
		orchOpts = append(orchOpts, engine.WithTimeout(timeout))
	}
	orch := engine.NewOrchestrator(gs, canvas, client, orchOpts...)

	es := pmcp.NewEditorServer(pmcp.EditorServerDeps{
		Graph:        gs,
		Persistence:  pm,
		Orchestrator: orch,
		IDs:          ids,
		Hub:          hub,
		Logger:       logger,
	})

	go func() {
		notifier := pmcp.NewMCPNotifier(es.MCPServer(), es.Sessions())
		if err := es.ForwardEvents(ctx, notifier); err != nil && ctx.Err() == nil {
			logger.Warn("event forwarding stopped", "error", err)
		}
	}()

	logger.Info("pinnacle mcp server starting", "backend", cfg.BaseURL)
	return es.Serve(ctx)
}
