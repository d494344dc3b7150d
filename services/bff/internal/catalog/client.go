package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/metrics"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var ErrInvalidPath = errors.New("catalog: invalid forward path")

// StatusError is returned for any non-2xx catalog response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: status %d from %s", e.StatusCode, e.URL)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// BreakerSuccess keeps 4xx answers from tripping the circuit breaker.
func BreakerSuccess(err error) bool {
	code := StatusCode(err)
	return err == nil || (code >= 400 && code < 500)
}

// ClientConfig holds configurable settings for the catalog client.
type ClientConfig struct {
	UserAgent      string
	Referer        string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	MaxBodyBytes   int64
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Config     ClientConfig
	CB         *gobreaker.CircuitBreaker
	Limiter    ratelimit.Limiter
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.Metrics = m }
}

// WithRateLimit paces outbound requests to rps per second. Zero disables pacing.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.Limiter = ratelimit.New(rps)
		}
	}
}

func New(baseURL string, cfg ClientConfig, opts ...Option) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Config:     cfg,
		Limiter:    ratelimit.NewUnlimited(),
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) GetMovie(ctx context.Context, id string) (*Movie, error) {
	return getJSON[Movie](ctx, c, c.endpoint("/movies/"+url.PathEscape(id), nil))
}

func (c *Client) ListMovies(ctx context.Context, q ListQuery) (*MovieList, error) {
	return getJSON[MovieList](ctx, c, c.endpoint(q.path(), q.values()))
}

func (c *Client) GetStar(ctx context.Context, id string) (*Star, error) {
	return getJSON[Star](ctx, c, c.endpoint("/stars/"+url.PathEscape(id), nil))
}

func (c *Client) SearchStars(ctx context.Context, keyword string) (*StarList, error) {
	return getJSON[StarList](ctx, c, c.endpoint("/stars/search", map[string]string{"keyword": keyword}))
}

func (c *Client) GetMagnets(ctx context.Context, id string, q MagnetQuery) ([]Magnet, error) {
	out, err := getJSON[[]Magnet](ctx, c, c.endpoint("/magnets/"+url.PathEscape(id), q.values()))
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Raw is an undecoded catalog response.
type Raw struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forward relays a request to {BaseURL}/{path}. GET requests are retried like
// the typed calls; other methods are sent once.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body []byte) (*Raw, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if strings.Contains(path, "..") || strings.Contains(path, "://") {
		return nil, ErrInvalidPath
	}
	u := c.BaseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	if method == http.MethodGet {
		return withBreaker(c, func() (*Raw, error) {
			return withRetry(ctx, c, u, func() (*Raw, error) { return c.do(ctx, method, u, nil) })
		})
	}
	return withBreaker(c, func() (*Raw, error) { return c.do(ctx, method, u, body) })
}

// FetchImage opens rawURL with image headers. The caller closes the body.
func (c *Client) FetchImage(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.Config.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	if c.Config.Referer != "" {
		req.Header.Set("Referer", c.Config.Referer)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.IncUpstreamFetch("image", "error")
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		c.Metrics.IncUpstreamFetch("image", "status")
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	c.Metrics.IncUpstreamFetch("image", "ok")
	return resp, nil
}

func (c *Client) endpoint(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) == 0 {
		return u
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return u + "?" + q.Encode()
}

func getJSON[T any](ctx context.Context, c *Client, u string) (*T, error) {
	raw, err := withBreaker(c, func() (*Raw, error) {
		return withRetry(ctx, c, u, func() (*Raw, error) { return c.do(ctx, http.MethodGet, u, nil) })
	})
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw.Body, &out); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", u, err)
	}
	return &out, nil
}

func withBreaker(c *Client, fn func() (*Raw, error)) (*Raw, error) {
	if c.CB == nil {
		return fn()
	}
	result, err := c.CB.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return result.(*Raw), nil
}

// withRetry retries transport failures with exponential backoff. Status errors
// are final.
func withRetry(ctx context.Context, c *Client, u string, fn func() (*Raw, error)) (*Raw, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying catalog request", zap.String("url", u), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		raw, err := fn()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) || ctx.Err() != nil {
			return nil, err
		}
		c.Log.Warn("catalog request failed", zap.String("url", u), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

// wait takes an outbound token. Take cannot be interrupted, so a request
// whose caller left while it was queued is dropped here.
func (c *Client) wait(ctx context.Context) error {
	c.Limiter.Take()
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*Raw, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.Config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip")
	if c.Config.Referer != "" {
		req.Header.Set("Referer", c.Config.Referer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.IncUpstreamFetch("catalog", "error")
		return nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	b, err := io.ReadAll(io.LimitReader(reader, c.Config.MaxBodyBytes))
	if err != nil {
		c.Metrics.IncUpstreamFetch("catalog", "error")
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.Metrics.IncUpstreamFetch("catalog", "status")
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Body: b}
	}
	c.Metrics.IncUpstreamFetch("catalog", "ok")
	return &Raw{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: b}, nil
}
