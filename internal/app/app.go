// Package app assembles the alttext service from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/alttext/internal/ai"
	"github.com/kiranshivaraju/alttext/internal/api"
	"github.com/kiranshivaraju/alttext/internal/api/handler"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/batch"
	"github.com/kiranshivaraju/alttext/internal/cache"
	"github.com/kiranshivaraju/alttext/internal/config"
	"github.com/kiranshivaraju/alttext/internal/media"
	"github.com/kiranshivaraju/alttext/internal/observability"
	"github.com/kiranshivaraju/alttext/internal/queue"
	"github.com/kiranshivaraju/alttext/internal/store"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// App holds the long-lived components of a running service.
type App struct {
	Config    *config.Config
	Store     store.Store
	Cache     cache.Cache
	Library   media.Library
	Processor *queue.Processor
	Manager   *batch.Manager

	closers []func()
}

// New connects the database, Redis and the media library, then assembles the
// service on top of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("database connected", "driver", cfg.Database.Driver())

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		st.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	metrics, err := observability.NewMetrics()
	if err != nil {
		redisCache.Close()
		st.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	lib := media.NewWordPressClient(cfg.Media.BaseURL, cfg.Media.Username, cfg.Media.AppPassword, cfg.Media.Timeout)

	a := Assemble(cfg, st, redisCache, lib, metrics)
	a.closers = append(a.closers, func() { _ = redisCache.Close() }, st.Close)
	return a, nil
}

// Assemble wires the processor and manager over already-open dependencies.
func Assemble(cfg *config.Config, st store.Store, ca cache.Cache, lib media.Library, metrics *observability.Metrics) *App {
	images := ai.NewImageFetcher(cfg.Media.UploadsURL, cfg.Media.UploadsDir, cfg.Media.Timeout)
	providers := func(settings models.Settings) (models.DescriptionProvider, error) {
		return ai.NewProvider(settings, cfg.API.APIKey, images)
	}

	proc := queue.NewProcessor(st, ca, lib, providers, queue.WithMetrics(metrics))
	mgr := batch.NewManager(st, ca, lib, proc, cfg.Snapshot, metrics)

	return &App{
		Config:    cfg,
		Store:     st,
		Cache:     ca,
		Library:   lib,
		Processor: proc,
		Manager:   mgr,
	}
}

// Router builds the HTTP handler. Background processing started by requests runs
// on runner; metricsHandler may be nil.
func (a *App) Router(runner *handler.Runner, metricsHandler http.Handler) http.Handler {
	batches := handler.NewBatches(a.Manager, a.Processor, runner)
	admin := handler.NewAdmin(a.Store, a.Manager)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(a.Store),
		RateLimit: mw.NewRateLimit(a.Cache, a.Config.Server.RateLimitPerMin),

		HealthHandler:  handler.NewHealthHandler(a.Store, a.Cache),
		MetricsHandler: metricsHandler,

		CreateBatch:    batches.Create,
		ListBatches:    batches.List,
		GetBatch:       batches.Get,
		BatchProgress:  batches.Progress,
		ProcessBatch:   batches.Process,
		ApplyBatch:     batches.Apply,
		CancelBatch:    batches.Cancel,
		RetryBatch:     batches.Retry,
		ProcessJob:     batches.ProcessJob,
		CleanupBatches: admin.Cleanup,

		CreateKeyHandler: admin.CreateKey,
		ListKeysHandler:  admin.ListKeys,
		RevokeKeyHandler: admin.RevokeKey,
	})
}

// EnsureBootstrapKey installs the configured bootstrap key as an admin key when
// the key table is empty. It does nothing once any key exists.
func (a *App) EnsureBootstrapKey(ctx context.Context) error {
	raw := a.Config.Server.BootstrapKey
	if raw == "" {
		return nil
	}

	keys, err := a.Store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	if len(keys) > 0 {
		return nil
	}

	key, err := mw.NewAPIKey("bootstrap", raw, []string{mw.ScopeAdmin})
	if err != nil {
		return fmt.Errorf("bootstrap key: %w", err)
	}
	if err := a.Store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store bootstrap key: %w", err)
	}
	slog.Info("bootstrap admin key installed", "key_prefix", key.KeyPrefix)
	return nil
}

// Close releases connections opened by New, in reverse order of opening.
func (a *App) Close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}
