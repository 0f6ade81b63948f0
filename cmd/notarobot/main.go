package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/comigor/notarobot/internal/config"
	"github.com/comigor/notarobot/internal/conversation"
	"github.com/comigor/notarobot/internal/history"
	"github.com/comigor/notarobot/internal/llm"
	"github.com/comigor/notarobot/internal/logger"
	"github.com/comigor/notarobot/internal/mcpserver"
	"github.com/comigor/notarobot/internal/metrics"
	"github.com/comigor/notarobot/internal/server"
	"github.com/comigor/notarobot/pkg/commands"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.L.Error("notarobot stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("notarobot", pflag.ExitOnError)
	config.Flags(fs)
	fs.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// stdout belongs to the MCP protocol in mcp mode
	var logOut io.Writer = os.Stdout
	if cfg.Server.Mode == config.ModeMCP {
		logOut = os.Stderr
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Path, logOut); err != nil {
		logger.L.Warn("log file unavailable, using fallback", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	caller := llm.NewCaller(llm.NewClient(cfg.LLM), cfg.Chat.Workers, llm.WithMetrics(m))
	conv := conversation.NewService(store, caller, cfg.Chat, m)

	registry := commands.NewRegistry()
	commands.RegisterBuiltins(registry, conv)
	dispatcher := commands.NewDispatcher(registry, cfg.Limits, m)

	logger.L.Info("starting notarobot", "version", version, "mode", cfg.Server.Mode, "model", cfg.Chat.Model)
	switch cfg.Server.Mode {
	case config.ModeMCP:
		return mcpserver.Serve(ctx, mcpserver.New(dispatcher, version), os.Stdin, os.Stdout)
	default:
		return server.New(dispatcher, store, m).Run(ctx, cfg.Server.Addr())
	}
}
