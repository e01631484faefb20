package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/silluthedon/delta/internal/auth"
	"github.com/silluthedon/delta/internal/catalog"
	"github.com/silluthedon/delta/internal/config"
	"github.com/silluthedon/delta/internal/db"
	"github.com/silluthedon/delta/internal/gate"
	"github.com/silluthedon/delta/internal/handlers"
	"github.com/silluthedon/delta/internal/identity"
	"github.com/silluthedon/delta/internal/logging"
	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/middleware"
	"github.com/silluthedon/delta/internal/repositories"
	"github.com/silluthedon/delta/internal/storage"
	"github.com/silluthedon/delta/internal/workspace"
)

// services holds the wired application and its background loops.
type services struct {
	handlers handlers.Dependencies
	catalog  *catalog.Store
	registry *workspace.Registry
	redis    *redis.Client
	cfg      config.Config

	wg sync.WaitGroup
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*services, error) {
	users := repositories.NewPostgresUserRepository(pool)
	profiles := repositories.NewPostgresProfileRepository(pool)
	videos := repositories.NewPostgresVideoRepository(pool)
	tokens := auth.NewTokens(cfg.Session.TokenTTL, repositories.NewPostgresSessionStore(pool))

	svc := &services{cfg: cfg}

	var (
		source catalog.Source = videos
		cache  handlers.CacheInvalidator
	)
	if cfg.Catalog.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Catalog.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		svc.redis = redis.NewClient(opts)
		cached := catalog.NewCachedSource(videos, svc.redis, cfg.Catalog.CacheTTL, logger)
		source, cache = cached, cached
	} else {
		logger.Info("redis not configured, catalog reads go straight to postgres")
	}

	var assets handlers.AssetStorage
	if cfg.ObjectStore.Enabled() {
		s3, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			svc.close()
			return nil, err
		}
		assets = s3
	} else {
		logger.Info("object store not configured, admin uploads disabled")
	}

	svc.catalog = catalog.NewStore(source, logger, m)
	identities := identity.NewService(users, tokens, identity.WithLogger(logger))
	if len(cfg.Access.AdminEmails) == 0 {
		logger.Info("no administrators configured, admin routes are unreachable")
	}
	svc.registry = workspace.NewRegistry(
		func(token string) workspace.Identity { return identities.NewClient(token) },
		profiles,
		svc.catalog,
		workspace.Options{IdleTTL: cfg.Session.WorkspaceTTL, Logger: logger, Metrics: m},
	)

	svc.handlers = handlers.Dependencies{
		Logger:         logger,
		Metrics:        m,
		Workspaces:     svc.registry,
		Catalog:        gate.NewAdapter(svc.catalog, videos, cfg.Access.PaymentURL, m),
		Health:         svc.catalog,
		Refresher:      svc.catalog,
		Cache:          cache,
		Videos:         videos,
		Profiles:       profiles,
		Assets:         assets,
		AdminEmails:    cfg.Access.AdminEmails,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AuthLimiter:    middleware.NewIPRateLimiter(cfg.HTTP.AuthRateRequests, cfg.HTTP.AuthRateWindow, cfg.HTTP.AuthRateBurst, 0),
		TrustProxy:     cfg.HTTP.TrustProxy,
		Cookies:        handlers.CookieOptions{Secure: cfg.Session.SecureCookies, TokenTTL: cfg.Session.TokenTTL},
		ResolveTimeout: cfg.Session.ResolveTimeout,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	}
	return svc, nil
}

// start loads the first catalog snapshot and launches the refresh and sweep
// loops. A failed first load leaves the catalog empty and stale until a
// later refresh succeeds.
func (s *services) start(ctx context.Context) {
	warmCtx, span := logging.StartSpan(ctx, "catalog.warmup")
	span.End(s.catalog.Refresh(warmCtx))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.catalog.Run(ctx, s.cfg.Catalog.RefreshInterval)
	}()
	go func() {
		defer s.wg.Done()
		s.registry.Run(ctx, s.cfg.Session.SweepInterval)
	}()
}

// close waits for the background loops, which stop when the start context
// is canceled, then releases workspaces and the Redis client.
func (s *services) close() {
	s.wg.Wait()
	if s.registry != nil {
		s.registry.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
