package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
)

// writeUpstreamError maps catalog client errors onto the API envelope. Non-2xx
// answers keep their status; transport failures become 502.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, rid string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	var se *catalog.StatusError
	switch {
	case errors.As(err, &se):
		var details map[string]any
		if json.Valid(se.Body) {
			details = map[string]any{"response": json.RawMessage(se.Body)}
		}
		code := "UPSTREAM_STATUS"
		if se.StatusCode == http.StatusNotFound {
			code = "NOT_FOUND"
		}
		api.WriteError(w, se.StatusCode, code, http.StatusText(se.StatusCode), rid, details)
	case errors.Is(err, catalog.ErrInvalidPath):
		api.BadRequest(w, "INVALID_PATH", "path is not allowed", rid, nil)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		api.WriteError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "catalog temporarily unavailable", rid, nil)
	default:
		api.BadGateway(w, "UPSTREAM_ERROR", "catalog request failed", rid)
	}
}
