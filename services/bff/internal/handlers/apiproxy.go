package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
)

type Forwarder interface {
	Forward(ctx context.Context, method, path string, query url.Values, body []byte) (*catalog.Raw, error)
}

// APIProxy handles GET|POST /api/proxy?path=<catalog path>&... Remaining query
// parameters are forwarded; a POST body that is not JSON is sent as {}.
func APIProxy(f Forwarder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		q := r.URL.Query()
		p := strings.TrimSpace(q.Get("path"))
		if p == "" {
			api.BadRequest(w, "MISSING_PATH", "path is required", rid, nil)
			return
		}
		q.Del("path")

		var body []byte
		if r.Method == http.MethodPost {
			b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
			if err != nil || !json.Valid(b) {
				b = []byte("{}")
			}
			body = b
		}

		raw, err := f.Forward(r.Context(), r.Method, p, q, body)
		if err != nil {
			writeUpstreamError(w, r, rid, err)
			return
		}
		w.Header().Set("Content-Type", firstNonEmpty(raw.ContentType, "application/json"))
		w.WriteHeader(raw.StatusCode)
		_, _ = w.Write(raw.Body)
	}
}
