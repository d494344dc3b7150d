package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/logging"
	"github.com/example/catalog-stream/internal/platform/metrics"
	"github.com/example/catalog-stream/services/hls-proxy/internal/manifest"
	"github.com/example/catalog-stream/services/hls-proxy/internal/rewriter"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

const (
	defaultManifestType = "application/vnd.apple.mpegurl"
	defaultMediaType    = "application/octet-stream"
)

// Target is one outbound fetch: an absolute URL plus the inbound Range header.
type Target struct {
	URL   string
	Range string
}

// TargetFor builds a Target for rawURL carrying r's Range header.
func TargetFor(r *http.Request, rawURL string) Target {
	return Target{URL: rawURL, Range: r.Header.Get("Range")}
}

type Config struct {
	MaxManifestBytes int64
	RedactURLs       bool
}

type Proxy struct {
	cfg      Config
	media    *upstream.Client
	manifest *upstream.Client
	rw       *rewriter.Rewriter
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Proxy)

func WithLogger(log *zap.Logger) Option {
	return func(p *Proxy) { p.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// New wires the proxy. media serves segments, manifestClient serves .m3u8
// targets (shorter timeout).
func New(cfg Config, media, manifestClient *upstream.Client, rw *rewriter.Rewriter, opts ...Option) *Proxy {
	if cfg.MaxManifestBytes <= 0 {
		cfg.MaxManifestBytes = 8 << 20
	}
	if manifestClient == nil {
		manifestClient = media
	}
	p := &Proxy{cfg: cfg, media: media, manifest: manifestClient, rw: rw, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Serve fetches target and writes the response. A non-nil error means nothing
// has been written yet and the caller must produce the error response.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, target Target) error {
	client := p.media
	kind := "media"
	if manifest.IsManifest("", target.URL) {
		client, kind = p.manifest, "manifest"
	}

	var extra http.Header
	if target.Range != "" {
		extra = http.Header{"Range": {target.Range}}
	}

	resp, err := client.Get(r.Context(), target.URL, upstream.ProfileMedia, extra)
	if err != nil {
		p.metrics.IncUpstreamFetch(kind, upstream.Classify(err).String())
		return fmt.Errorf("fetch %s: %w", logging.RedactURL(target.URL), err)
	}
	defer resp.Body.Close()

	if err := upstream.CheckStatus(resp); err != nil {
		p.metrics.IncUpstreamFetch(kind, upstream.KindStatus.String())
		return err
	}
	p.metrics.IncUpstreamFetch(kind, "ok")

	if manifest.IsManifest(resp.Header.Get("Content-Type"), target.URL) {
		return p.serveManifest(w, resp)
	}
	p.passthrough(r.Context(), w, resp, target)
	return nil
}

func (p *Proxy) serveManifest(w http.ResponseWriter, resp *http.Response) error {
	text, err := upstream.ReadText(resp, p.cfg.MaxManifestBytes)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	doc := manifest.NewDocument(text, resp.Request.URL.String())
	out := p.rw.Rewrite(doc)
	p.metrics.IncManifestRewrite(string(manifest.Classify(text)))

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultManifestType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.RawText)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.RawText)
	return nil
}

func (p *Proxy) passthrough(ctx context.Context, w http.ResponseWriter, resp *http.Response, target Target) {
	h := w.Header()
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultMediaType
	}
	h.Set("Content-Type", ct)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
		h.Set("Accept-Ranges", "bytes")
	}

	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	n, err := io.Copy(w, resp.Body)
	p.metrics.AddProxiedBytes(n)
	if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		p.log.Warn("passthrough copy interrupted",
			logging.URLField("url", target.URL, p.cfg.RedactURLs),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
	}
}
