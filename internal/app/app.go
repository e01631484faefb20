package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/silluthedon/delta/internal/config"
	"github.com/silluthedon/delta/internal/db"
	"github.com/silluthedon/delta/internal/handlers"
	"github.com/silluthedon/delta/internal/httpserver"
	"github.com/silluthedon/delta/internal/metrics"
)

// Run dispatches the delta sub-commands.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.SlogLevel(),
	}))
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildDependencies(ctx, pool, cfg, logger, metrics.New())
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	svc.start(bgCtx)
	defer func() {
		stopBackground()
		svc.close()
	}()

	srv := httpserver.New(cfg.AppPort, handlers.NewRouter(svc.handlers), cfg.HTTP.WriteTimeout)

	logger.Info("starting http server",
		"port", cfg.AppPort,
		"catalog_videos", len(svc.catalog.Snapshot().Videos),
		"uploads_enabled", cfg.ObjectStore.Enabled(),
		"redis_cache", cfg.Catalog.RedisURL != "",
	)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
