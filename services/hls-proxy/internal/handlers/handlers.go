package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/analytics"
	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/internal/platform/logging"
	"github.com/example/catalog-stream/internal/platform/signing"
	"github.com/example/catalog-stream/services/hls-proxy/internal/locator"
	"github.com/example/catalog-stream/services/hls-proxy/internal/proxy"
	"github.com/example/catalog-stream/services/hls-proxy/internal/resolver"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

type Locator interface {
	Locate(ctx context.Context, movieID string) (locator.StreamReference, error)
}

type Resolver interface {
	ResolvePlaylistURL(ctx context.Context, uuid string) (string, error)
	SelectRendition(ctx context.Context, playlistURL, quality string) string
}

type Fetcher interface {
	Serve(w http.ResponseWriter, r *http.Request, target proxy.Target) error
}

type Handler struct {
	Locator     Locator
	Resolver    Resolver
	Proxy       Fetcher
	Signer      *signing.Signer
	Analytics   *analytics.Publisher
	WatchPrefix string
	StreamHost  string
	RedactURLs  bool
	Log         *zap.Logger
}

// Routes registers the video proxy endpoints. CORS and preflight handling is
// expected to be installed by the caller (proxy.CORS).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/video-proxy/{movieId}", h.VideoProxy)
	r.Get("/video-proxy/{movieId}/*", h.VideoProxy)
	r.Get("/proxy/stream", h.Stream)
}

var indexNames = map[string]bool{
	"index.m3u8":    true,
	"playlist.m3u8": true,
	"master.m3u8":   true,
}

// VideoProxy serves /video-proxy/{movieId}[/{path}].
func (h *Handler) VideoProxy(w http.ResponseWriter, r *http.Request) {
	movieID := strings.TrimSpace(chi.URLParam(r, "movieId"))
	if movieID == "" {
		h.writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing movie id")
		return
	}
	videoPath := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if videoPath == "" {
		videoPath = "index.m3u8"
	}

	if indexNames[videoPath] {
		h.serveIndex(w, r, movieID)
		return
	}
	h.serveSubPath(w, r, movieID, videoPath)
}

// serveIndex runs LOCATE, RESOLVE and SELECT before handing off to the proxy.
func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request, movieID string) {
	ctx := r.Context()
	quality := r.URL.Query().Get("quality")

	ref, err := h.Locator.Locate(ctx, movieID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var target string
	switch ref.Kind {
	case locator.KindUUID:
		playlistURL, err := h.Resolver.ResolvePlaylistURL(ctx, ref.Value)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		target = h.Resolver.SelectRendition(ctx, playlistURL, quality)
	default:
		target = h.Resolver.SelectRendition(ctx, ref.Value, quality)
	}

	h.log().Info("video proxy index",
		zap.String("movie_id", movieID),
		zap.String("kind", string(ref.Kind)),
		logging.URLField("target", target, h.RedactURLs),
	)
	if err := h.Proxy.Serve(w, r, proxy.TargetFor(r, target)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Analytics.Publish(analytics.SubjectStreamingStarted, "streaming.started", map[string]any{
		"movie_id": movieID,
		"kind":     string(ref.Kind),
		"quality":  quality,
	})
}

// serveSubPath proxies segments and sub-playlists requested relative to the
// movie. Segment requests re-derive the stream base through LOCATE.
func (h *Handler) serveSubPath(w http.ResponseWriter, r *http.Request, movieID, videoPath string) {
	base := h.WatchPrefix + "/" + movieID + "/"
	if strings.HasSuffix(videoPath, ".ts") {
		if ref, err := h.Locator.Locate(r.Context(), movieID); err == nil {
			base = locator.StreamBase(ref, h.StreamHost)
		} else {
			h.log().Debug("segment base falls back to watch page", zap.String("movie_id", movieID), zap.Error(err))
		}
	}
	target := base + videoPath
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	if err := h.Proxy.Serve(w, r, proxy.TargetFor(r, target)); err != nil {
		h.fail(w, r, err)
	}
}

// Stream serves /proxy/stream?url=<absolute>.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		h.writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing url parameter")
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		h.writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "url must be an absolute http(s) URL")
		return
	}

	if h.Signer.Enabled() {
		signedURL, exp, sig, err := signing.ExtractSigned(q)
		if err != nil || !h.Signer.Verify(signedURL, exp, sig) {
			h.writeError(w, r, http.StatusForbidden, "FORBIDDEN", "invalid or expired signature")
			return
		}
	}

	if err := h.Proxy.Serve(w, r, proxy.TargetFor(r, rawURL)); err != nil {
		h.fail(w, r, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.log().Debug("client went away", zap.String("path", r.URL.Path))
		return
	}
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, resolver.ErrUnreachable) {
		h.log().Info("stream not found", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Failed to get stream URL")
		return
	}

	status := upstream.HTTPStatus(err)
	code, msg := "UPSTREAM_ERROR", "Failed to proxy video"
	switch status {
	case http.StatusGatewayTimeout:
		code, msg = "UPSTREAM_TIMEOUT", "Video server connection timed out"
	case http.StatusServiceUnavailable:
		code, msg = "UPSTREAM_REFUSED", "Video server refused connection"
	}
	h.log().Warn("upstream fetch failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", upstream.Classify(err).String()),
		zap.Error(err),
	)
	h.writeError(w, r, status, code, msg)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	api.WriteNegotiatedError(w, r, status, code, msg, httpserver.RequestIDFromContext(r.Context()))
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
