package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/analytics"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/internal/platform/logging"
	"github.com/example/catalog-stream/internal/platform/metrics"
	"github.com/example/catalog-stream/internal/platform/natsconn"
	"github.com/example/catalog-stream/internal/platform/run"
	"github.com/example/catalog-stream/internal/platform/signing"
	"github.com/example/catalog-stream/services/hls-proxy/internal/cache"
	"github.com/example/catalog-stream/services/hls-proxy/internal/config"
	"github.com/example/catalog-stream/services/hls-proxy/internal/handlers"
	"github.com/example/catalog-stream/services/hls-proxy/internal/locator"
	"github.com/example/catalog-stream/services/hls-proxy/internal/proxy"
	"github.com/example/catalog-stream/services/hls-proxy/internal/resolver"
	"github.com/example/catalog-stream/services/hls-proxy/internal/rewriter"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New("hls_proxy")

	metaClient := upstream.New(cfg.MetadataTimeout,
		upstream.WithUserAgent(cfg.UserAgent),
		upstream.WithReferer(cfg.WatchURLPrefix),
		upstream.WithLogger(log),
	)
	mediaClient := upstream.New(cfg.MediaTimeout,
		upstream.WithUserAgent(cfg.UserAgent),
		upstream.WithLogger(log),
		upstream.WithStreaming(),
	)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "watch-page",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	locOpts := []locator.Option{
		locator.WithCircuitBreaker(cb),
		locator.WithLogger(log),
		locator.WithMetrics(m),
	}
	ready := func() error { return nil }
	if cfg.CacheEnabled() {
		if cfg.RedisURL != "" {
			rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.LocateCacheTTL)
			if err != nil {
				log.Error("redis", zap.Error(err))
				run.Exit(1)
			}
			defer rc.Close()
			locOpts = append(locOpts, locator.WithCache(rc))
			ready = func() error { return rc.Ping(context.Background()) }
			log.Info("locate cache enabled", zap.String("backend", "redis"), zap.Duration("ttl", cfg.LocateCacheTTL))
		} else {
			locOpts = append(locOpts, locator.WithCache(cache.NewMemoryCache(cfg.LocateCacheSize, cfg.LocateCacheTTL)))
			log.Info("locate cache enabled", zap.String("backend", "memory"), zap.Duration("ttl", cfg.LocateCacheTTL))
		}
	}

	loc := locator.New(locator.Config{
		WatchPrefix:  cfg.WatchURLPrefix,
		MaxAttempts:  cfg.LocateMaxAttempts,
		RetryDelay:   cfg.LocateRetryDelay,
		MaxBodyBytes: cfg.MaxManifestBytes,
	}, metaClient, locOpts...)

	res := resolver.New(resolver.Config{
		StreamHost:     cfg.StreamHost,
		PlaylistSuffix: cfg.PlaylistSuffix,
		MaxBodyBytes:   cfg.MaxManifestBytes,
	}, metaClient, resolver.WithLogger(log))

	var signer *signing.Signer
	if cfg.SigningSecret != "" {
		signer = signing.New(cfg.SigningSecret, cfg.SigningTTL)
	}
	rw := rewriter.New(rewriter.Options{
		PublicBase:     cfg.PublicBaseURL,
		RewriteTagURIs: cfg.RewriteTagURIs,
		Signer:         signer,
	})
	px := proxy.New(proxy.Config{
		MaxManifestBytes: cfg.MaxManifestBytes,
		RedactURLs:       cfg.LogObfuscateURL,
	}, mediaClient, metaClient, rw, proxy.WithLogger(log), proxy.WithMetrics(m))

	nc, err := natsconn.ConnectOptional(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		log.Warn("nats unavailable, analytics disabled", zap.Error(err))
	}
	if nc != nil {
		defer nc.Close()
	}

	h := &handlers.Handler{
		Locator:     loc,
		Resolver:    res,
		Proxy:       px,
		Signer:      signer,
		Analytics:   analytics.FromConn(nc, log),
		WatchPrefix: cfg.WatchURLPrefix,
		StreamHost:  cfg.StreamHost,
		RedactURLs:  cfg.LogObfuscateURL,
		Log:         log,
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger:    log,
		ReadyFunc: ready,
		SkipCORS:  true,
		Middlewares: []func(http.Handler) http.Handler{
			proxy.CORS,
			metrics.RequestMiddleware(m),
		},
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	h.Routes(r)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			runner.Graceful(ctx, srv.Shutdown)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
