package themeadapt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Yozuusan/Adtest-sub000/adapterstore"
	"github.com/Yozuusan/Adtest-sub000/connectivity"
	"github.com/Yozuusan/Adtest-sub000/dbopen"
	"github.com/Yozuusan/Adtest-sub000/inference"
	"github.com/Yozuusan/Adtest-sub000/mapqueue"
	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/snapshot"
)

// Open builds a Service from cfg: durable store and cache, inference
// backend, snapshot archive and, when ObsDBPath is set, view events and
// metrics. Close releases all of it.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func() error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	var opts []adapterstore.Option
	opts = append(opts, adapterstore.WithLogger(logger))
	switch cfg.Cache.Kind {
	case "lru":
		opts = append(opts, adapterstore.WithCache(adapterstore.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL)))
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Cache.RedisAddr}})
		closers = append(closers, rdb.Close)
		opts = append(opts, adapterstore.WithCache(adapterstore.NewRedisCache(rdb, cfg.Cache.TTL)))
	}
	dsn := cfg.DBPath
	if cfg.DatabaseURL != "" {
		dsn = cfg.DatabaseURL
	}
	var (
		store *adapterstore.Store
		err   error
	)
	if p := cfg.DBPool; p.MaxOpen > 0 {
		db, dialect, err := dbopen.Open(dsn, dbopen.WithMkdirAll(), dbopen.WithPool(p.MaxOpen, p.MaxIdle, p.Lifetime))
		if err != nil {
			return fail(err)
		}
		if store, err = adapterstore.New(ctx, db, dialect, opts...); err != nil {
			db.Close()
			return fail(err)
		}
	} else if store, err = adapterstore.Open(dsn, opts...); err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	backend, backendClose, err := newBackend(ctx, cfg.Inference, logger)
	if err != nil {
		return fail(err)
	}
	if backendClose != nil {
		closers = append(closers, backendClose)
	}
	engine := inference.New(backend, inference.WithConfig(cfg.Inference.Config), inference.WithLogger(logger))

	svcOpts := []Option{WithLogger(logger), WithHTTPConfig(cfg.HTTP)}
	if cfg.Archive.Endpoint != "" {
		archive, err := snapshot.NewMinIOArchive(ctx, cfg.Archive)
		if err != nil {
			return fail(err)
		}
		svcOpts = append(svcOpts, WithArchive(archive))
	}
	var obsDB *sql.DB
	if cfg.ObsDBPath != "" {
		obs, _, err := dbopen.Open(cfg.ObsDBPath, dbopen.WithMkdirAll())
		if err != nil {
			return fail(fmt.Errorf("themeadapt: observability db: %w", err))
		}
		closers = append(closers, obs.Close)
		obsDB = obs
		if err := observability.Init(obs); err != nil {
			return fail(fmt.Errorf("themeadapt: observability schema: %w", err))
		}
		mm := observability.NewMetricsManager(obs, 100, 5*time.Second)
		closers = append(closers, mm.Close)
		svcOpts = append(svcOpts,
			WithViewLogger(observability.NewViewLogger(obs, observability.WithViewLogger(logger))),
			WithMetrics(mm))
	}

	if cfg.Jobs.DBPath != "" {
		jdb, _, err := dbopen.Open(cfg.Jobs.DBPath, dbopen.WithMkdirAll(),
			dbopen.WithBusyTimeout(30_000), dbopen.WithSchema(mapqueue.Schema))
		if err != nil {
			return fail(fmt.Errorf("themeadapt: jobs db: %w", err))
		}
		closers = append(closers, jdb.Close)
		q := mapqueue.New(jdb, mapqueue.Options{
			Visibility:  cfg.Jobs.Visibility,
			MaxAttempts: cfg.Jobs.MaxAttempts,
			Logger:      logger,
		})
		svcOpts = append(svcOpts, WithQueue(q, cfg.Jobs.Workers))
	}

	svc := New(store, engine, svcOpts...)
	svc.closers = closers
	svc.obsDB, svc.retention = obsDB, cfg.Retention
	svc.jobsRetain = cfg.Jobs.Retain
	logger.Info("themeadapt: service opened", "db", string(dbopen.DialectOf(dsn)), "cache", cfg.Cache.Kind,
		"inference", cfg.Inference.Provider, "archive", cfg.Archive.Endpoint != "", "jobs", cfg.Jobs.DBPath != "")
	return svc, nil
}

// newBackend builds the configured inference backend; nil means heuristic
// only.
func newBackend(ctx context.Context, cfg InferenceConfig, logger *slog.Logger) (inference.Backend, func() error, error) {
	switch cfg.Provider {
	case "genai":
		b, err := inference.NewGenAIBackend(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case "openai":
		return inference.NewOpenAIBackend(cfg.Endpoint, cfg.APIKey, cfg.Model, logger), nil, nil
	case "remote":
		router := connectivity.New(connectivity.WithLogger(logger))
		router.RegisterTransport("http", connectivity.HTTPFactory())
		route := connectivity.Route{
			Service:  inference.CompleteService,
			Strategy: "http",
			Endpoint: cfg.Endpoint,
		}
		if cfg.AllowPrivate {
			route.Config = json.RawMessage(`{"allow_private":true}`)
		}
		err := router.Apply([]connectivity.Route{route})
		if err != nil {
			router.Close()
			return nil, nil, err
		}
		return &inference.RemoteBackend{Router: router}, router.Close, nil
	}
	return nil, nil, nil
}
