package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/agentctx"
	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/files"
	"github.com/ehrlich-b/perch/internal/history"
	"github.com/ehrlich-b/perch/internal/llm"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/orchestrator"
	"github.com/ehrlich-b/perch/internal/permission"
	"github.com/ehrlich-b/perch/internal/registry"
	"github.com/ehrlich-b/perch/internal/server"
	"github.com/ehrlich-b/perch/internal/store"
	"github.com/ehrlich-b/perch/internal/tools"
)

func main() {
	root := &cobra.Command{
		Use:   "perchd",
		Short: "perch daemon — personal assistant core",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runDaemon(configPath)
		},
	}

	defaultConfig := config.Default().ConfigPath()
	root.Flags().String("config", defaultConfig, "config file path")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	h := history.NewStore(cfg.HistoryDir())
	reg := registry.New(st, h)
	if err := reg.Rebuild(); err != nil {
		logger.Warn("registry rebuild failed", "error", err)
	}

	agents := agentctx.NewManager(h)
	gate := permission.NewGate(st, nil, cfg.AskTimeout())
	gate.SetBypassAll(cfg.Permission.BypassAll)

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	o := orchestrator.New(reg, agents, gate, provider, tools.Builtin(), h, cfg.LLM.Model)

	secret, err := auth.GenerateOrLoadSecret(st, cfg.Server.Secret)
	if err != nil {
		return fmt.Errorf("load jwt secret: %w", err)
	}

	f := files.NewStore(cfg.FilesDir())
	srv := server.New(st, reg, o, gate, f, secret, cfg.SocketPath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := reg.Watch(ctx); err != nil {
			logger.Warn("history watcher stopped", "error", err)
		}
	}()

	logger.Info("perchd listening",
		"socket", cfg.SocketPath(),
		"provider", provider.Name(),
		"model", cfg.LLM.Model)
	return srv.ListenAndServe(ctx)
}
