package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/agent/core"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"github.com/mohammad-safakhou/deeres/internal/llm"
	"github.com/mohammad-safakhou/deeres/internal/metrics"
	"github.com/mohammad-safakhou/deeres/internal/runtime"
	"github.com/mohammad-safakhou/deeres/internal/search"
	"github.com/mohammad-safakhou/deeres/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func serveCMD() *cobra.Command {
	var cfgPath, addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return serve
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := runtime.NewLogger(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	m := metrics.New()
	models := llm.NewRegistry(cfg.LLM.Providers, nil, m.ObserveLLM)

	searchOpts := []search.Option{
		search.WithLogger(logger.Named("search")),
		search.WithObserver(m.ObserveSearch),
	}
	if cfg.Search.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		searchOpts = append(searchOpts, search.WithCache(search.NewRedisCache(rdb, cfg.Search.Cache.TTL)))
	}
	searcher, err := search.New(cfg.Search, searchOpts...)
	if err != nil {
		return err
	}

	engine := core.NewEngine(cfg, models, searcher,
		core.WithLogger(logger.Named("engine")),
		core.WithExecutorMetrics(m.Executor()),
	)
	sched, err := jobs.New(engine, cfg.Scheduler,
		jobs.WithLogger(logger.Named("scheduler")),
		jobs.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	sched.Start()

	srv := server.New(cfg.Server, sched,
		server.WithLogger(logger.Named("http")),
		server.WithMetricsHandler(m.Handler()),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if e := srv.Shutdown(sctx); e != nil {
		logger.Warn("http shutdown", zap.Error(e))
	}
	if e := sched.Stop(sctx); e != nil {
		logger.Warn("scheduler stop", zap.Error(e))
	}
	return err
}
