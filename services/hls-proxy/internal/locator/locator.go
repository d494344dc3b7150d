package locator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/catalog-stream/internal/platform/metrics"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

// ErrNotFound means no stream could be located for the movie. When the watch
// page could not be fetched the last transport error is wrapped as well.
var ErrNotFound = errors.New("stream not found")

// Cache stores located references. Both backends in the cache package satisfy it.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

type Config struct {
	WatchPrefix  string
	MaxAttempts  int
	RetryDelay   time.Duration
	MaxBodyBytes int64
}

type Locator struct {
	cfg        Config
	client     *upstream.Client
	strategies []Strategy
	cb         *gobreaker.CircuitBreaker
	cache      Cache
	group      singleflight.Group
	log        *zap.Logger
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures the Locator.
type Option func(*Locator)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(l *Locator) { l.cb = cb }
}

// WithCache enables caching of located references. Concurrent lookups for the
// same movie then share a single watch-page fetch.
func WithCache(c Cache) Option {
	return func(l *Locator) { l.cache = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Locator) { l.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Locator) { l.metrics = m }
}

func WithStrategies(s []Strategy) Option {
	return func(l *Locator) { l.strategies = s }
}

func New(cfg Config, client *upstream.Client, opts ...Option) *Locator {
	cfg.WatchPrefix = strings.TrimRight(cfg.WatchPrefix, "/")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	l := &Locator{
		cfg:        cfg,
		client:     client,
		strategies: DefaultStrategies(),
		log:        zap.NewNop(),
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// WatchPageURL returns the watch page for movieID.
func (l *Locator) WatchPageURL(movieID string) string {
	return l.cfg.WatchPrefix + "/" + movieID
}

// Locate returns the stream reference for movieID or an error wrapping ErrNotFound.
func (l *Locator) Locate(ctx context.Context, movieID string) (StreamReference, error) {
	if strings.TrimSpace(movieID) == "" {
		return StreamReference{}, fmt.Errorf("%w: empty movie id", ErrNotFound)
	}
	if l.cache == nil {
		return l.locate(ctx, movieID)
	}

	key := "locate:" + movieID
	var cached StreamReference
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.log.Warn("locate cache get failed", zap.String("movie_id", movieID), zap.Error(err))
	}
	l.metrics.IncCache("locate", hit && !cached.IsZero())
	if hit && !cached.IsZero() {
		return cached, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		// Detached from the first caller so its disconnect does not fail the others.
		ref, err := l.locate(context.WithoutCancel(ctx), movieID)
		if err != nil {
			return ref, err
		}
		if err := l.cache.Set(context.WithoutCancel(ctx), key, ref); err != nil {
			l.log.Warn("locate cache set failed", zap.String("movie_id", movieID), zap.Error(err))
		}
		return ref, nil
	})
	select {
	case <-ctx.Done():
		return StreamReference{}, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return StreamReference{}, res.Err
		}
		return res.Val.(StreamReference), nil
	}
}

func (l *Locator) locate(ctx context.Context, movieID string) (StreamReference, error) {
	pageURL := l.WatchPageURL(movieID)
	html, err := l.fetchWithBreaker(ctx, pageURL)
	if err != nil {
		l.metrics.IncLocate("fetch_failed")
		l.log.Warn("watch page unavailable", zap.String("movie_id", movieID), zap.Error(err))
		return StreamReference{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	ref, strategy, ok := Extract(html, l.strategies)
	if !ok {
		l.metrics.IncLocate("none")
		l.log.Info("no stream pattern matched", zap.String("movie_id", movieID))
		return StreamReference{}, fmt.Errorf("%w: no pattern matched for %s", ErrNotFound, movieID)
	}
	l.metrics.IncLocate(strategy)
	l.log.Debug("stream located",
		zap.String("movie_id", movieID),
		zap.String("strategy", strategy),
		zap.String("kind", string(ref.Kind)),
	)
	return ref, nil
}

func (l *Locator) fetchWithBreaker(ctx context.Context, pageURL string) (string, error) {
	if l.cb == nil {
		return l.fetchWithRetry(ctx, pageURL)
	}
	result, err := l.cb.Execute(func() (interface{}, error) {
		return l.fetchWithRetry(ctx, pageURL)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// fetchWithRetry makes up to MaxAttempts GETs with a fixed delay between
// them. A 2xx body is returned as soon as it is read.
func (l *Locator) fetchWithRetry(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			l.log.Debug("retrying watch page", zap.String("url", pageURL), zap.Int("attempt", attempt), zap.Duration("delay", l.cfg.RetryDelay))
			if err := l.sleep(ctx, l.cfg.RetryDelay); err != nil {
				return "", err
			}
		}
		html, err := l.fetchOnce(ctx, pageURL)
		if err == nil {
			return html, nil
		}
		lastErr = err
		l.log.Warn("watch page fetch failed", zap.String("url", pageURL), zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (l *Locator) fetchOnce(ctx context.Context, pageURL string) (string, error) {
	resp, err := l.client.Get(ctx, pageURL, upstream.ProfileDocument, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := upstream.CheckStatus(resp); err != nil {
		return "", err
	}
	return upstream.ReadText(resp, l.cfg.MaxBodyBytes)
}

// StreamBase returns the directory segments of ref live under, with a
// trailing slash: streamHost+uuid+"/" or the direct URL's directory.
func StreamBase(ref StreamReference, streamHost string) string {
	if ref.Kind == KindUUID {
		return strings.TrimRight(streamHost, "/") + "/" + ref.Value + "/"
	}
	u, err := url.Parse(ref.Value)
	if err != nil {
		i := strings.LastIndex(ref.Value, "/")
		return ref.Value[:i+1]
	}
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		u.Path = u.Path[:i+1]
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
