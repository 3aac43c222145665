// Command gateway runs the payment API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paysphere/sphere-gateway/internal/accesslog"
	"github.com/paysphere/sphere-gateway/internal/auth"
	"github.com/paysphere/sphere-gateway/internal/cache"
	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/envelope"
	"github.com/paysphere/sphere-gateway/internal/merchant"
	"github.com/paysphere/sphere-gateway/internal/middleware"
	"github.com/paysphere/sphere-gateway/internal/observability"
	"github.com/paysphere/sphere-gateway/internal/pipeline"
	"github.com/paysphere/sphere-gateway/internal/route"
	"github.com/paysphere/sphere-gateway/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/gateway.yaml", "path to the configuration file")
	flag.Parse()

	if env := os.Getenv("GATEWAY_CONFIG"); env != "" && !isFlagSet("config") {
		*configPath = env
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store := config.NewStore(cfg)

	watcher, err := config.NewWatcher(*configPath, store.Replace,
		config.WithWatcherLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	local := cache.NewMemory(cfg.Cache.LocalMaxEntries, cfg.Cache.LocalTTL.Duration(), logger)
	defer func() { _ = local.Close() }()

	cacheOpts := []merchant.ConfigCacheOption{
		merchant.WithConfigCacheLogger(logger),
	}
	if cfg.Cache.Redis != "" {
		shared, err := cache.NewRedis(cfg.Cache.Redis, cfg.Cache.RedisTTL.Duration(), logger)
		if err != nil {
			return err
		}
		defer func() { _ = shared.Close() }()
		cacheOpts = append(cacheOpts, merchant.WithSharedCache(shared, cfg.Cache.RedisTTL.Duration()))
	} else {
		logger.Warn("redis cache disabled, credential lookups fall back to the config rpc")
	}

	client := merchant.NewClient(cfg.Upstream.PaymentServiceURL, cfg.Upstream.Timeout.Duration(),
		merchant.WithClientLogger(logger))
	configCache := merchant.NewConfigCache(local, client, cacheOpts...)

	authenticator := auth.New(configCache,
		cfg.Auth.JWTSecret, cfg.Auth.TimestampFormat, cfg.Auth.MaxTimestampDrift.Duration(),
		auth.WithLogger(logger))

	builder := envelope.NewBuilder(cfg.Upstream.Origin, cfg.Auth.TimestampFormat)

	recorder := accesslog.NewRecorder(cfg.Log, logger)
	defer recorder.Close()

	engine := route.NewEngine(cfg.Hosts.SandboxMarker)

	p := pipeline.New(store, engine, authenticator, builder, recorder,
		pipeline.WithLogger(logger))

	mw := []gin.HandlerFunc{middleware.Recovery(builder, logger)}
	if cfg.RateLimit.Enabled {
		mw = append(mw, middleware.RateLimit(cfg.RateLimit, builder, logger))
	}

	srv := server.New(cfg.Server, p, logger, mw...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}

// isFlagSet reports whether the named flag was passed explicitly.
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
