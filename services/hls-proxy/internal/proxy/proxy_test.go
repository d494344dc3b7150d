package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/example/catalog-stream/internal/platform/metrics"
	"github.com/example/catalog-stream/services/hls-proxy/internal/rewriter"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

const mediaPlaylist = "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nseg-1.ts\n#EXTINF:4.0,\nhttps://cdn.example/abs/seg-2.ts\n#EXT-X-ENDLIST\n"

func newTestProxy(t *testing.T, m *metrics.Metrics) *Proxy {
	t.Helper()
	c := upstream.New(2 * time.Second)
	return New(Config{}, c, c, rewriter.New(rewriter.Options{RewriteTagURIs: true}),
		WithLogger(zaptest.NewLogger(t)), WithMetrics(m))
}

func upstreamServer(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var lastHeaders http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("/v/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		lastHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = io.WriteString(w, mediaPlaylist)
	})
	mux.HandleFunc("/v/untyped.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = io.WriteString(w, "#EXTM3U\nseg.ts\n")
	})
	mux.HandleFunc("/v/seg-1.ts", func(w http.ResponseWriter, r *http.Request) {
		lastHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "video/mp2t")
		if r.Header.Get("Range") == "bytes=0-3" {
			w.Header().Set("Content-Range", "bytes 0-3/10")
			w.Header().Set("Content-Length", "4")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, "0123")
			return
		}
		w.Header().Set("Content-Length", "10")
		_, _ = io.WriteString(w, "0123456789")
	})
	mux.HandleFunc("/v/missing.ts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastHeaders
}

// ─── Manifest ────────────────────────────────────────────────────────────────

func TestServe_ManifestRewritten(t *testing.T) {
	srv, _ := upstreamServer(t)
	m := metrics.New("test")
	p := newTestProxy(t, m)

	req := httptest.NewRequest(http.MethodGet, "/proxy/stream", nil)
	rr := httptest.NewRecorder()
	if err := p.Serve(rr, req, TargetFor(req, srv.URL+"/v/index.m3u8")); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("content type not preserved: %q", ct)
	}
	body := rr.Body.String()
	want := "/proxy/stream?url=" + url.QueryEscape(srv.URL+"/v/seg-1.ts")
	if !strings.Contains(body, "\n"+want+"\n") {
		t.Fatalf("relative segment not rewritten, body:\n%s", body)
	}
	if !strings.Contains(body, "/proxy/stream?url="+url.QueryEscape("https://cdn.example/abs/seg-2.ts")) {
		t.Fatalf("absolute segment not wrapped, body:\n%s", body)
	}

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `test_manifest_rewrites_total{playlist_type="media"} 1`) {
		t.Fatalf("rewrite not counted:\n%s", scrape.Body.String())
	}
}

func TestServe_ManifestDefaultContentType(t *testing.T) {
	srv, _ := upstreamServer(t)
	p := newTestProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/stream", nil)
	rr := httptest.NewRecorder()
	if err := p.Serve(rr, req, TargetFor(req, srv.URL+"/v/untyped.m3u8")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !strings.Contains(rr.Body.String(), "/proxy/stream?url=") {
		t.Fatalf("manifest detected by extension must be rewritten: %q", rr.Body.String())
	}
}

// ─── Passthrough ─────────────────────────────────────────────────────────────

func TestServe_SegmentPassthrough(t *testing.T) {
	srv, headers := upstreamServer(t)
	p := newTestProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/stream", nil)
	rr := httptest.NewRecorder()
	if err := p.Serve(rr, req, TargetFor(req, srv.URL+"/v/seg-1.ts")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rr.Code != http.StatusOK || rr.Body.String() != "0123456789" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Length") != "10" || rr.Header().Get("Content-Type") != "video/mp2t" {
		t.Fatalf("headers not forwarded: %v", rr.Header())
	}
	if rr.Header().Get("Accept-Ranges") != "" {
		t.Fatal("Accept-Ranges only accompanies Content-Range")
	}
	if (*headers).Get("Origin") != srv.URL {
		t.Fatalf("expected Origin %q, got %q", srv.URL, (*headers).Get("Origin"))
	}
}

func TestServe_RangePassthrough(t *testing.T) {
	srv, headers := upstreamServer(t)
	p := newTestProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/stream", nil)
	req.Header.Set("Range", "bytes=0-3")
	rr := httptest.NewRecorder()
	if err := p.Serve(rr, req, TargetFor(req, srv.URL+"/v/seg-1.ts")); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if (*headers).Get("Range") != "bytes=0-3" {
		t.Fatalf("Range not forwarded verbatim: %q", (*headers).Get("Range"))
	}
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Range") != "bytes 0-3/10" || rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("range headers missing: %v", rr.Header())
	}
	if rr.Body.String() != "0123" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

func TestServe_UpstreamStatusError(t *testing.T) {
	srv, _ := upstreamServer(t)
	p := newTestProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/proxy/stream", nil)
	rr := httptest.NewRecorder()
	err := p.Serve(rr, req, TargetFor(req, srv.URL+"/v/missing.ts"))

	var se *upstream.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if upstream.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("upstream non-2xx must map to 502, got %d", upstream.HTTPStatus(err))
	}
	if rr.Body.Len() != 0 {
		t.Fatal("nothing should be written on error")
	}
}

// ─── CORS ────────────────────────────────────────────────────────────────────

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/video-proxy/ABC-123/index.m3u8", nil))

	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" ||
		rr.Header().Get("Access-Control-Allow-Methods") != "GET, OPTIONS" ||
		rr.Header().Get("Access-Control-Allow-Headers") != "Origin, X-Requested-With, Content-Type, Accept, Range" {
		t.Fatalf("unexpected CORS headers: %v", rr.Header())
	}
}
