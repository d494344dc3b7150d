package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/fanza"
)

type SummaryFetcher interface {
	Summary(ctx context.Context, movieID string) (fanza.Result, error)
}

type summaryResponse struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
	FanzaID string `json:"fanza_id"`
}

// GetMovieSummary handles GET /api/movie-summary/{id}
func GetMovieSummary(f SummaryFetcher, cache Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathParam(w, r, rid, "id")
		if !ok {
			return
		}

		key := "summary:" + id
		if cached, ok := cache.Get(key); ok {
			api.WriteJSON(w, http.StatusOK, cached)
			return
		}
		res, err := f.Summary(r.Context(), id)
		switch {
		case errors.Is(err, fanza.ErrUnavailable):
			api.NotFound(w, "NOT_FOUND", "Could not find summary", rid)
			return
		case err != nil:
			if r.Context().Err() == nil {
				api.Internal(w, rid)
			}
			return
		}
		resp := summaryResponse{Status: "success", Summary: res.Summary, Source: res.Source, FanzaID: res.FanzaID}
		cache.Set(key, resp)
		api.WriteJSON(w, http.StatusOK, resp)
	}
}
