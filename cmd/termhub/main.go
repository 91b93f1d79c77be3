package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/driftlock/termhub/internal/activity"
	"github.com/driftlock/termhub/internal/api"
	"github.com/driftlock/termhub/internal/config"
	"github.com/driftlock/termhub/internal/gateway"
	"github.com/driftlock/termhub/internal/logging"
	"github.com/driftlock/termhub/internal/metrics"
	"github.com/driftlock/termhub/internal/prewarm"
	"github.com/driftlock/termhub/internal/session"
	"github.com/driftlock/termhub/internal/tabs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.NewDefault()
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fallback := logging.NewDefault()
		fallback.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	tabList, err := tabs.Load(cfg.Tabs.Path)
	if err != nil {
		return err
	}
	if len(tabList) > 0 {
		logger.Info("loaded tab config", zap.String("path", cfg.Tabs.Path), zap.Int("tabs", len(tabList)))
	}

	tracker := activity.NewTracker()
	if len(cfg.Activity.Dirs) > 0 {
		checker := activity.NewDirChecker(cfg.Activity.Dirs, activity.DirSize)
		go checker.Run(ctx, cfg.Activity.PollInterval, tracker.RecordBackgroundActivity)
	}

	registry := session.NewRegistry(session.RegistryOptions{
		MaxSessions:      cfg.Session.Max,
		MaxTabs:          cfg.Session.MaxTabs,
		Keepalive:        cfg.Session.Keepalive,
		NamePollInterval: cfg.Session.NamePollInterval,
		OrphanTimeout:    cfg.Prewarm.OrphanTimeout,
		WorkDir:          cfg.Session.WorkDir,
		TabCommand:       tabList.Command,
		Spawner:          session.SpawnPTY,
		Logger:           logger.Named("session"),
		Metrics:          m,
	})
	go registry.RunReaper(ctx, cfg.Session.ReapInterval)

	var engine *prewarm.Engine
	if cfg.Prewarm.Enabled {
		params := prewarm.ParamsFor(tabList.PrimaryCommand())
		engine = prewarm.NewEngine(params, cfg.Prewarm.HardTimeout, cfg.Prewarm.PollInterval, logger.Named("prewarm"))
		registry.StartPrewarm(engine)
		engine.Start(ctx)
	}

	gw := gateway.New(registry, tracker, m, logger.Named("gateway"))
	handler := api.NewHandler(registry, tracker, engine, gw, m, cfg.Auth.Token, logger.Named("api"))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	handler.Mount(r)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	registry.Shutdown()
	return nil
}
