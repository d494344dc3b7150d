package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/analytics"
	"github.com/example/catalog-stream/internal/platform/config"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/internal/platform/logging"
	"github.com/example/catalog-stream/internal/platform/metrics"
	"github.com/example/catalog-stream/internal/platform/natsconn"
	"github.com/example/catalog-stream/internal/platform/run"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
	bffconfig "github.com/example/catalog-stream/services/bff/internal/config"
	"github.com/example/catalog-stream/services/bff/internal/fanza"
	bffhandlers "github.com/example/catalog-stream/services/bff/internal/handlers"
	bffhttp "github.com/example/catalog-stream/services/bff/internal/http"
	"github.com/example/catalog-stream/services/bff/internal/translate"
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

	bffCfg, err := bffconfig.LoadBFF()
	if err != nil {
		log.Error("load bff config", zap.Error(err))
		run.Exit(1)
	}

	m := metrics.New("bff")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         "catalog",
		MaxRequests:  bffCfg.CBMaxRequests,
		Interval:     bffCfg.CBInterval,
		Timeout:      bffCfg.CBTimeout,
		IsSuccessful: catalog.BreakerSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bffCfg.CBFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	cat := catalog.New(bffCfg.CatalogAPIURL, catalog.ClientConfig{
		Referer:        bffCfg.CatalogReferer,
		MaxRetries:     bffCfg.CatalogMaxRetries,
		RetryBaseDelay: bffCfg.CatalogRetryDelay,
		Timeout:        bffCfg.CatalogTimeout,
	},
		catalog.WithRateLimit(bffCfg.CatalogRPS),
		catalog.WithCircuitBreaker(cb),
		catalog.WithLogger(log),
		catalog.WithMetrics(m),
	)

	nc, err := natsconn.ConnectOptional(natsconn.Options{URL: bffCfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		log.Warn("nats unavailable, cache invalidation and analytics disabled", zap.Error(err))
	}
	if nc != nil {
		defer nc.Close()
	}

	cache, err := bffhandlers.NewTTLCache(time.Duration(bffCfg.CacheTTLSec)*time.Second, bffCfg.CacheMaxEntries, nc, bffCfg.CacheInvalidateSubject, bffhandlers.WithCacheMetrics("bff", m))
	if err != nil {
		log.Error("cache invalidation subscribe", zap.Error(err))
		run.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	tr := translate.New(translate.Config{
		APIURL:     bffCfg.Translation.APIURL,
		APIToken:   bffCfg.Translation.APIToken,
		Model:      bffCfg.Translation.Model,
		SourceLang: bffCfg.Translation.SourceLang,
		TargetLang: bffCfg.Translation.TargetLang,
		Timeout:    bffCfg.Translation.Timeout,
	}, translate.WithLogger(log))
	if bffCfg.Translation.APIToken == "" && !tr.IsOllama() {
		log.Warn("TRANSLATION_API_TOKEN not set, /api/translate will reject requests")
	}

	middlewares := []func(http.Handler) http.Handler{metrics.RequestMiddleware(m)}
	if bffCfg.RateLimitRPS > 0 {
		middlewares = append(middlewares, bffhttp.NewRateLimiter(bffCfg.RateLimitRPS, bffCfg.RateLimitBurst).Middleware)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      log,
		Middlewares: middlewares,
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	bffhandlers.Routes(r, bffhandlers.Deps{
		Catalog:      cat,
		Cache:        cache,
		Summaries:    fanza.New(bffCfg.FanzaBaseURL, bffCfg.FanzaTimeout, fanza.WithLogger(log)),
		Translator:   tr,
		Analytics:    analytics.FromConn(nc, log),
		ImageBaseURL: bffCfg.ImageBaseURL,
	})

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
