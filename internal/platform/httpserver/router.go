package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/internal/platform/logging"
)

type RouterConfig struct {
	// Comma separated list; empty means "*".
	CORSOrigins string
	// ReadyFunc backs /readyz. nil means always ready.
	ReadyFunc func() error
	Logger    *zap.Logger
	// SkipCORS leaves CORS to the service (hls-proxy writes its own headers).
	SkipCORS bool
	// Middlewares run after the base stack and before every route,
	// including the health endpoints.
	Middlewares []func(http.Handler) http.Handler
}

// SetupRouter attaches base middlewares and common endpoints.
// IMPORTANT: must be called before registering any routes.
func SetupRouter(r chi.Router, cfgs ...RouterConfig) {
	var cfg RouterConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	r.Use(RequestIDMiddleware("X-Request-Id"))
	if cfg.Logger != nil {
		r.Use(logging.Middleware(cfg.Logger, func(req *http.Request) string {
			return RequestIDFromContext(req.Context())
		}))
	}
	r.Use(middleware.Recoverer)

	if !cfg.SkipCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   parseCORSOrigins(cfg.CORSOrigins),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Range", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "Content-Range", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	for _, mw := range cfg.Middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.ReadyFunc != nil {
			if err := cfg.ReadyFunc(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready: " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

func parseCORSOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
