package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/repairops/internal/bus"
	"git.home.luguber.info/inful/repairops/internal/collector"
	"git.home.luguber.info/inful/repairops/internal/config"
	"git.home.luguber.info/inful/repairops/internal/fixer"
	"git.home.luguber.info/inful/repairops/internal/logfields"
	"git.home.luguber.info/inful/repairops/internal/metrics"
	"git.home.luguber.info/inful/repairops/internal/notify"
	"git.home.luguber.info/inful/repairops/internal/runner"
	"git.home.luguber.info/inful/repairops/internal/server/httpserver"
	"git.home.luguber.info/inful/repairops/internal/store"
	"git.home.luguber.info/inful/repairops/internal/workspace"
)

var CLI struct {
	Verbose bool `short:"v" help:"Enable verbose logging"`

	Server struct {
	} `cmd:"" help:"Run the task server (configuration from the environment)"`

	Collect struct {
		Config string `short:"c" help:"Collector configuration file path" default:""`
	} `cmd:"" help:"Run the log collector on an application host"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch kctx.Command() {
	case "server":
		err = runServer(ctx)
	case "collect":
		err = runCollect(ctx)
	}
	if err != nil {
		slog.Error("Fatal error", logfields.Error(err))
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.LoadServer(ctx)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.TraceDBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	wsm, err := workspace.NewManager(cfg.WorkspacesDir)
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheusRecorder()

	notifier := notify.New(notify.Config{
		Enabled:  cfg.SMTPEnabled,
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.SMTPTo,
	})

	// The event bus is optional wiring for dashboards and chat bridges.
	var publisher *bus.Publisher
	if cfg.NATSURL != "" {
		publisher, err = bus.Connect(ctx, cfg.NATSURL)
		if err != nil {
			slog.Warn("Event bus unavailable, continuing without it", logfields.Error(err))
			publisher = nil
		}
	}
	defer publisher.Close()

	tasks := runner.NewTasks()
	run := runner.New(runner.Deps{
		Store:      st,
		Workspaces: wsm,
		Fixer:      fixer.New(cfg.ClaudeCommand, cfg.ClaudeArgList(), fixer.Mode(cfg.ClaudeFixMode)),
		Tasks:      tasks,
		Notifier:   notifier,
		Publisher:  publisher,
		Recorder:   recorder,
		Options: runner.Options{
			DefaultCodeHost: cfg.CodeHost,
			GitHubToken:     cfg.GitHubToken,
			GitLabToken:     cfg.GitLabToken,
		},
	})
	queue := runner.NewQueue(cfg.MaxErrorQueueSize, cfg.MaxConcurrentTasks, run, recorder)

	sweeper, err := workspace.NewSweeper(wsm,
		time.Duration(cfg.WorkspaceSweepHours)*time.Hour,
		time.Duration(cfg.WorkspaceMaxAgeHours)*time.Hour)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg, httpserver.Options{
		Store:          st,
		Queue:          queue,
		Tasks:          tasks,
		MetricsHandler: recorder.Handler(),
	})

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	queue.Start(workCtx)
	sweeper.Start()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", logfields.Error(err))
	}
	cancelWork()
	if err := queue.Stop(shutdownCtx); err != nil {
		slog.Warn("Worker shutdown incomplete", logfields.Error(err))
	}
	if err := sweeper.Stop(); err != nil {
		slog.Warn("Sweeper shutdown incomplete", logfields.Error(err))
	}
	return nil
}

func runCollect(ctx context.Context) error {
	cfg, err := collector.LoadConfig(ctx, CLI.Collect.Config)
	if err != nil {
		return err
	}
	slog.Info("Collector starting",
		slog.String("source", cfg.Source),
		logfields.Repo(cfg.RepoURL))
	return collector.New(cfg).Run(ctx)
}
