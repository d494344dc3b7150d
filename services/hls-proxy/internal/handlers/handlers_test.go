package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap/zaptest"

	"github.com/example/catalog-stream/internal/platform/analytics"
	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/internal/platform/signing"
	"github.com/example/catalog-stream/services/hls-proxy/internal/locator"
	"github.com/example/catalog-stream/services/hls-proxy/internal/proxy"
	"github.com/example/catalog-stream/services/hls-proxy/internal/resolver"
	"github.com/example/catalog-stream/services/hls-proxy/internal/rewriter"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

const testUUID = "deadbeef-dead-beef-dead-beefdeadbeef"

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1400000,RESOLUTION=842x480
842x480/video.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
1080p/video.m3u8
`

const mediaPlaylist = "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nseg-1.ts\n#EXT-X-ENDLIST\n"

type fixture struct {
	watch  *httptest.Server
	stream *httptest.Server
	router chi.Router
	js     *recordingJS
}

type recordingJS struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingJS) PublishAsync(subj string, _ []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subj)
	return nil, nil
}

func (r *recordingJS) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

// newFixture starts a fake watch site and a fake streaming host. watchHTML
// receives the stream host URL so pages can embed reachable references.
func newFixture(t *testing.T, watchHTML func(streamURL string) string, signer *signing.Signer) *fixture {
	t.Helper()
	f := &fixture{js: &recordingJS{}}

	streamMux := http.NewServeMux()
	streamMux.HandleFunc("/"+testUUID+"/playlist.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = io.WriteString(w, masterPlaylist)
	})
	for _, p := range []string{"/" + testUUID + "/1080p/video.m3u8", "/" + testUUID + "/842x480/video.m3u8", "/direct/video.m3u8"} {
		streamMux.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = io.WriteString(w, mediaPlaylist)
		})
	}
	segment := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", "bytes 0-1/4")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, "TS")
			return
		}
		_, _ = io.WriteString(w, "TSTS")
	}
	streamMux.HandleFunc("/"+testUUID+"/seg-1.ts", segment)
	streamMux.HandleFunc("/"+testUUID+"/1080p/seg-1.ts", segment)
	streamMux.HandleFunc("/broken.ts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	f.stream = httptest.NewServer(streamMux)
	t.Cleanup(f.stream.Close)

	f.watch = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/720p/video.m3u8") {
			w.Header().Set("Content-Type", "application/x-mpegURL")
			_, _ = io.WriteString(w, mediaPlaylist)
			return
		}
		_, _ = io.WriteString(w, watchHTML(f.stream.URL))
	}))
	t.Cleanup(f.watch.Close)

	log := zaptest.NewLogger(t)
	meta := upstream.New(2 * time.Second)
	media := upstream.New(2*time.Second, upstream.WithStreaming())
	h := &Handler{
		Locator: locator.New(locator.Config{WatchPrefix: f.watch.URL, MaxAttempts: 1}, meta,
			locator.WithLogger(log)),
		Resolver: resolver.New(resolver.Config{StreamHost: f.stream.URL + "/"}, meta,
			resolver.WithLogger(log)),
		Proxy: proxy.New(proxy.Config{}, media, meta,
			rewriter.New(rewriter.Options{RewriteTagURIs: true, Signer: signer}), proxy.WithLogger(log)),
		Signer:      signer,
		Analytics:   analytics.New(f.js, log),
		WatchPrefix: f.watch.URL,
		StreamHost:  f.stream.URL + "/",
		Log:         log,
	}
	f.router = newRouter(h)
	return f
}

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		SkipCORS:    true,
		Middlewares: []func(http.Handler) http.Handler{proxy.CORS},
	})
	h.Routes(r)
	return r
}

func uuidPage(string) string {
	return `<html><video src="https://surrit.com/` + testUUID + `/playlist.m3u8"></video></html>`
}

func (f *fixture) get(path string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// ─── Index manifest ──────────────────────────────────────────────────────────

func TestVideoProxy_IndexHighestRendition(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	rr := f.get("/video-proxy/ABC-123/index.m3u8")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := "/proxy/stream?url=" + url.QueryEscape(f.stream.URL+"/"+testUUID+"/1080p/seg-1.ts")
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("expected rewritten 1080p segment %q in:\n%s", want, rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
	if f.js.count() != 1 {
		t.Fatalf("expected one analytics event, got %d", f.js.count())
	}
}

func TestVideoProxy_QualitySelection(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	rr := f.get("/video-proxy/ABC-123/master.m3u8?quality=500p")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := url.QueryEscape(f.stream.URL + "/" + testUUID + "/842x480/seg-1.ts")
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("expected 480p rendition in:\n%s", rr.Body.String())
	}
}

func TestVideoProxy_BareMovieIDIsIndex(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	if rr := f.get("/video-proxy/ABC-123"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestVideoProxy_DirectURL(t *testing.T) {
	f := newFixture(t, func(streamURL string) string {
		return `<script>player.source = "` + streamURL + `/direct/video.m3u8";</script>`
	}, nil)
	rr := f.get("/video-proxy/ABC-123/playlist.m3u8")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), url.QueryEscape(f.stream.URL+"/direct/seg-1.ts")) {
		t.Fatalf("expected segment under direct URL directory:\n%s", rr.Body.String())
	}
}

// ─── Not found ───────────────────────────────────────────────────────────────

func TestVideoProxy_NotFoundPlainText(t *testing.T) {
	f := newFixture(t, func(string) string { return "<html>nothing</html>" }, nil)
	rr := f.get("/video-proxy/ABC-123/index.m3u8")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("expected text/plain, got %q", rr.Header().Get("Content-Type"))
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("error responses must carry CORS headers")
	}
	if f.js.count() != 0 {
		t.Fatal("no analytics on failure")
	}
}

func TestVideoProxy_NotFoundJSON(t *testing.T) {
	f := newFixture(t, func(string) string { return "<html>nothing</html>" }, nil)
	rr := f.get("/video-proxy/ABC-123/index.m3u8", "Accept", "application/json")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "NOT_FOUND" || resp.Error.RequestID == "" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
}

func TestVideoProxy_PlaylistUnreachable(t *testing.T) {
	f := newFixture(t, func(string) string {
		return "id=01234567-89ab-cdef-0123-456789abcdef"
	}, nil)
	if rr := f.get("/video-proxy/ABC-123/index.m3u8"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// ─── Sub paths ───────────────────────────────────────────────────────────────

func TestVideoProxy_SegmentRederivesBase(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	rr := f.get("/video-proxy/ABC-123/seg-1.ts")

	if rr.Code != http.StatusOK || rr.Body.String() != "TSTS" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestVideoProxy_SegmentRange(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	rr := f.get("/video-proxy/ABC-123/seg-1.ts", "Range", "bytes=0-1")

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" || rr.Header().Get("Content-Range") != "bytes 0-1/4" {
		t.Fatalf("range headers missing: %v", rr.Header())
	}
}

func TestVideoProxy_SubPlaylistUsesWatchBase(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	rr := f.get("/video-proxy/ABC-123/720p/video.m3u8")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), url.QueryEscape(f.watch.URL+"/ABC-123/720p/seg-1.ts")) {
		t.Fatalf("expected segment under watch base:\n%s", rr.Body.String())
	}
}

// ─── /proxy/stream ───────────────────────────────────────────────────────────

func TestStream_MissingURL(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	if rr := f.get("/proxy/stream"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := f.get("/proxy/stream?url=seg-1.ts"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative url, got %d", rr.Code)
	}
}

func TestStream_RewritesManifest(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	target := f.stream.URL + "/" + testUUID + "/1080p/video.m3u8"
	rr := f.get("/proxy/stream?url=" + url.QueryEscape(target))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), url.QueryEscape(f.stream.URL+"/"+testUUID+"/1080p/seg-1.ts")) {
		t.Fatalf("unexpected body:\n%s", rr.Body.String())
	}
}

func TestStream_UpstreamErrorMapping(t *testing.T) {
	f := newFixture(t, uuidPage, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"upstream 500", f.stream.URL + "/broken.ts", http.StatusBadGateway},
		{"refused", "http://" + closedAddr + "/seg.ts", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.get("/proxy/stream?url=" + url.QueryEscape(tt.target))
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestStream_UpstreamTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := upstream.New(50 * time.Millisecond)
	h := &Handler{Proxy: proxy.New(proxy.Config{}, c, c, rewriter.New(rewriter.Options{}))}
	r := newRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/proxy/stream?url="+url.QueryEscape(slow.URL+"/seg.ts"), nil))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
}

func TestStream_Signing(t *testing.T) {
	signer := signing.New("secret", time.Hour)
	f := newFixture(t, uuidPage, signer)
	target := f.stream.URL + "/" + testUUID + "/1080p/video.m3u8"

	if rr := f.get("/proxy/stream?url=" + url.QueryEscape(target)); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", rr.Code)
	}

	signed := signing.BuildSignedURL("/proxy/stream", signer.SignNow(target))
	rr := f.get(signed)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with signature, got %d", rr.Code)
	}

	// Segment references emitted by the rewrite are signed too.
	lines := strings.Split(rr.Body.String(), "\n")
	var seg string
	for _, l := range lines {
		if strings.HasPrefix(l, "/proxy/stream?") {
			seg = l
		}
	}
	if seg == "" || f.get(seg).Code != http.StatusOK {
		t.Fatalf("rewritten segment reference should verify: %q", seg)
	}

	tampered := strings.Replace(signed, "1080p", "842x480", 1)
	if rr := f.get(tampered); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tampered url, got %d", rr.Code)
	}
}

// ─── Router behaviour ────────────────────────────────────────────────────────

func TestOptionsPreflight(t *testing.T) {
	f := newFixture(t, uuidPage, nil)
	for _, p := range []string{"/video-proxy/ABC-123/index.m3u8", "/video-proxy/ABC-123/seg-1.ts", "/proxy/stream"} {
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, p, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", p, rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Methods") != "GET, OPTIONS" {
			t.Fatalf("%s: unexpected CORS headers %v", p, rr.Header())
		}
	}
}

type panicLocator struct{}

func (panicLocator) Locate(context.Context, string) (locator.StreamReference, error) {
	panic("boom")
}

func TestPanicBecomes500(t *testing.T) {
	r := newRouter(&Handler{Locator: panicLocator{}})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/video-proxy/ABC-123/index.m3u8", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
