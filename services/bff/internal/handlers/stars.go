package handlers

import (
	"net/http"
	"strings"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
)

type starResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ImageURL     string `json:"image_url"`
	Birthdate    string `json:"birthdate"`
	Age          string `json:"age"`
	Height       string `json:"height"`
	Measurements string `json:"measurements"`
	Birthplace   string `json:"birthplace"`
	Hobby        string `json:"hobby"`
}

func toStarResponse(s *catalog.Star) starResponse {
	out := starResponse{
		ID:         s.ID,
		Name:       s.Name,
		ImageURL:   s.Avatar,
		Birthdate:  s.Birthday.String(),
		Age:        s.Age.String(),
		Height:     s.Height.String(),
		Birthplace: s.Birthplace.String(),
		Hobby:      s.Hobby.String(),
	}
	if s.Bust != "" {
		out.Measurements = strings.Join([]string{s.Bust.String(), s.Waistline.String(), s.Hipline.String()}, " - ")
	}
	return out
}

// GetStar handles GET /api/stars/{id}
func GetStar(c CatalogAPI, cache Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathParam(w, r, rid, "id")
		if !ok {
			return
		}

		key := "star:" + id
		if cached, ok := cache.Get(key); ok {
			api.WriteJSON(w, http.StatusOK, cached)
			return
		}
		s, err := c.GetStar(r.Context(), id)
		if err != nil {
			writeUpstreamError(w, r, rid, err)
			return
		}
		resp := toStarResponse(s)
		cache.Set(key, resp)
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// SearchStars handles GET /api/stars/search?keyword=
func SearchStars(c CatalogAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
		if keyword == "" {
			api.BadRequest(w, "MISSING_KEYWORD", "keyword is required", rid, nil)
			return
		}
		l, err := c.SearchStars(r.Context(), keyword)
		if err != nil {
			writeUpstreamError(w, r, rid, err)
			return
		}
		stars := make([]actorRef, 0, len(l.Stars))
		for _, s := range l.Stars {
			stars = append(stars, actorRef{ID: s.ID, Name: s.Name, ImageURL: s.Avatar})
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"stars": stars})
	}
}
