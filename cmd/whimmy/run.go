package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whimmy-ai/whimmy-plugin/internal/agentsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/bridge"
	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/engine"
	"github.com/whimmy-ai/whimmy-plugin/internal/logging"
	"github.com/whimmy-ai/whimmy-plugin/internal/memsync"
	"github.com/whimmy-ai/whimmy-plugin/internal/metrics"
	"github.com/whimmy-ai/whimmy-plugin/internal/models"
	"github.com/whimmy-ai/whimmy-plugin/internal/server"
	"github.com/whimmy-ai/whimmy-plugin/internal/store"
	"github.com/whimmy-ai/whimmy-plugin/internal/upload"
)

// EngineLoopback is the built-in echo engine.
const EngineLoopback = "loopback"

func runCmd() *cobra.Command {
	var engineName string
	var noStatus bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect all enabled accounts and serve agent turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, engineName, !noStatus)
		},
	}
	cmd.Flags().StringVar(&engineName, "engine", EngineLoopback, "dispatch engine")
	cmd.Flags().BoolVar(&noStatus, "no-status", false, "do not start the local status server")
	return cmd
}

func newEngine(name string, logger *slog.Logger) (engine.Engine, error) {
	switch name {
	case EngineLoopback:
		return engine.NewLoopback(logger.With("component", "engine-loopback")), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

func runBridge(ctx context.Context, engineName string, withStatus bool) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}

	dataDir := filepath.Dir(path)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	lock, err := acquireLock(dataDir)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	if len(cfg.Accounts) == 0 {
		return errors.New("no accounts configured; run 'whimmy setup' first")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, err := newEngine(engineName, logger)
	if err != nil {
		return err
	}

	catalogue := models.NewCatalogue(cfg.Models.List)
	m := metrics.New()
	svc, err := bridge.New(bridge.Options{
		Engine: eng,
		Syncer: agentsync.NewSyncer(
			agentsync.NewFileStore(cfg.AgentsFile),
			cfg.WorkspaceDir,
			agentsync.WithLogger(logger.With("component", "agentsync")),
		),
		Recorder:         db,
		Uploader:         upload.NewHTTPUploader(cfg.UploadURL),
		Memory:           memsync.NewCollector(cfg.WorkspaceDir),
		Catalogue:        catalogue,
		Metrics:          m,
		ApprovalTimeout:  time.Duration(cfg.Approvals.DefaultTimeoutMs) * time.Millisecond,
		QuestionTimeout:  time.Duration(cfg.Questions.DefaultTimeoutMs) * time.Millisecond,
		TokenTrackerSize: cfg.TokenTracker.MaxSessions,
		Version:          Version,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	sup := newSupervisor(svc, logger)
	sup.Apply(ctx, cfg)

	sched, err := models.NewScheduler(cfg.Models.SyncSchedule, svc, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if err := config.Watch(ctx, path, func(next *config.Config) {
		current.Store(next)
		catalogue.Set(next.Models.List)
		sup.Apply(ctx, next)
	}); err != nil {
		logger.Warn("config watcher not started", "error", err)
	}

	statusErr := make(chan error, 1)
	if withStatus && cfg.Status.IsEnabled() {
		go func() {
			statusErr <- server.Run(ctx, server.Options{
				Listen:   cfg.Status.Listen,
				Source:   svc,
				Accounts: func() []string { return current.Load().AccountIDs() },
				Metrics:  m.Handler(),
				Version:  Version,
				Logger:   logger.With("component", "server"),
			})
		}()
	}

	logger.Info("whimmy bridge running", "accounts", cfg.AccountIDs(), "engine", engineName)

	select {
	case <-ctx.Done():
	case err := <-statusErr:
		if err != nil {
			logger.Error("status server failed", "error", err)
		}
		<-ctx.Done()
	}

	logger.Info("shutting down")
	sup.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}
