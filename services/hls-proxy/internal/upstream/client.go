package upstream

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Profile selects the outbound header set.
type Profile int

const (
	// ProfileDocument is used for watch-page HTML fetches.
	ProfileDocument Profile = iota
	// ProfileMedia is used for playlists and segments. Referer and Origin are
	// set to the target's own origin.
	ProfileMedia
)

// Client wraps http.Client and sets browser-like headers on every request.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Referer   string
	Log       *zap.Logger

	streaming bool
}

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.UserAgent = ua
		}
	}
}

// WithReferer fixes the Referer/Origin used for ProfileDocument requests.
func WithReferer(ref string) Option {
	return func(c *Client) { c.Referer = ref }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.HTTP.Transport = rt }
}

// WithStreaming applies the timeout to response headers only, so segment
// bodies may stream for as long as the caller's context allows.
func WithStreaming() Option {
	return func(c *Client) { c.streaming = true }
}

// New builds a client whose requests are bounded by timeout. With
// WithStreaming the bound covers the wait for response headers instead.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		UserAgent: DefaultUserAgent,
		Log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.streaming {
		if t, ok := c.HTTP.Transport.(*http.Transport); ok {
			t.ResponseHeaderTimeout = timeout
			c.HTTP.Timeout = 0
		}
	}
	return c
}

// Get issues a GET for rawURL. extra headers (Range) are applied last.
// The caller owns resp.Body.
func (c *Client) Get(ctx context.Context, rawURL string, profile Profile, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, profile)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.HTTP.Do(req)
}

func (c *Client) setHeaders(req *http.Request, profile Profile) {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")

	switch profile {
	case ProfileDocument:
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
		if c.Referer != "" {
			req.Header.Set("Referer", c.Referer)
			req.Header.Set("Origin", c.Referer)
		}
	default:
		origin := Origin(req.URL)
		req.Header.Set("Accept", "*/*")
		// Bytes must reach the client untouched so Content-Length and
		// Content-Range stay valid.
		req.Header.Set("Accept-Encoding", "identity")
		req.Header.Set("Referer", origin+"/")
		req.Header.Set("Origin", origin)
	}
}

// Origin returns scheme://host for u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
