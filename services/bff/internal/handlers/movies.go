package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/catalog-stream/internal/platform/analytics"
	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
)

// CatalogAPI is the typed subset of the catalog client used by the handlers.
type CatalogAPI interface {
	GetMovie(ctx context.Context, id string) (*catalog.Movie, error)
	ListMovies(ctx context.Context, q catalog.ListQuery) (*catalog.MovieList, error)
	GetStar(ctx context.Context, id string) (*catalog.Star, error)
	SearchStars(ctx context.Context, keyword string) (*catalog.StarList, error)
	GetMagnets(ctx context.Context, id string, q catalog.MagnetQuery) ([]catalog.Magnet, error)
}

type actorRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type sampleImage struct {
	Index     int    `json:"index"`
	Src       string `json:"src"`
	Thumbnail string `json:"thumbnail"`
	URL       string `json:"url"`
}

type movieResponse struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	TranslatedTitle   string        `json:"translated_title,omitempty"`
	ImageURL          string        `json:"image_url"`
	Date              string        `json:"date"`
	VideoLength       string        `json:"videoLength,omitempty"`
	Producer          string        `json:"producer,omitempty"`
	Director          string        `json:"director,omitempty"`
	Series            string        `json:"series,omitempty"`
	Summary           string        `json:"summary,omitempty"`
	TranslatedSummary string        `json:"translated_summary,omitempty"`
	Genres            []string      `json:"genres"`
	Actors            []actorRef    `json:"actors"`
	MagnetLinks       []magnetLink  `json:"magnet_links"`
	SampleImages      []sampleImage `json:"sample_images"`
	Gid               string        `json:"gid"`
	Uc                string        `json:"uc"`
}

type movieListItem struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	TranslatedTitle string   `json:"translated_title,omitempty"`
	ImageURL        string   `json:"image_url"`
	Date            string   `json:"date"`
	Tags            []string `json:"tags"`
}

type paginationResponse struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	NextPage    int   `json:"next_page"`
	Pages       []int `json:"pages"`
}

type movieListResponse struct {
	Movies     []movieListItem    `json:"movies"`
	Pagination paginationResponse `json:"pagination"`
}

func propName(ps ...*catalog.Property) string {
	for _, p := range ps {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}

func toMovieResponse(m *catalog.Movie) movieResponse {
	out := movieResponse{
		ID:                m.ID,
		Title:             m.Title,
		TranslatedTitle:   m.TranslatedTitle,
		ImageURL:          m.Img,
		Date:              m.Date,
		VideoLength:       m.VideoLength.String(),
		Producer:          propName(m.Publisher, m.Producer),
		Director:          propName(m.Director),
		Series:            propName(m.Series),
		Summary:           m.Description,
		TranslatedSummary: m.TranslatedDescription,
		Genres:            make([]string, 0, len(m.Genres)),
		Actors:            make([]actorRef, 0, len(m.Stars)),
		MagnetLinks:       make([]magnetLink, 0, len(m.Magnets)),
		SampleImages:      make([]sampleImage, 0, len(m.Samples)),
		Gid:               m.Gid.String(),
		Uc:                firstNonEmpty(m.Uc.String(), "0"),
	}
	for _, g := range m.Genres {
		out.Genres = append(out.Genres, g.Name)
	}
	for _, s := range m.Stars {
		out.Actors = append(out.Actors, actorRef{ID: s.ID, Name: s.Name, ImageURL: s.Avatar})
	}
	for _, mg := range m.Magnets {
		out.MagnetLinks = append(out.MagnetLinks, toMagnetLink(mg))
	}
	for i, s := range m.Samples {
		out.SampleImages = append(out.SampleImages, sampleImage{
			Index:     i + 1,
			Src:       s.Src,
			Thumbnail: firstNonEmpty(s.Thumbnail, s.Src),
			URL:       fmt.Sprintf("/api/images/%s/sample_%d", m.ID, i+1),
		})
	}
	return out
}

func toMovieListResponse(l *catalog.MovieList) movieListResponse {
	out := movieListResponse{Movies: make([]movieListItem, 0, len(l.Movies))}
	for _, m := range l.Movies {
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		out.Movies = append(out.Movies, movieListItem{
			ID:              m.ID,
			Title:           m.Title,
			TranslatedTitle: m.TranslatedTitle,
			ImageURL:        m.Img,
			Date:            m.Date,
			Tags:            tags,
		})
	}
	p := l.Pagination
	out.Pagination = paginationResponse{
		CurrentPage: max(p.CurrentPage, 1),
		TotalPages:  len(p.Pages),
		HasNext:     p.HasNextPage,
		NextPage:    1,
		Pages:       p.Pages,
	}
	if p.NextPage != nil {
		out.Pagination.NextPage = *p.NextPage
	}
	if out.Pagination.Pages == nil {
		out.Pagination.Pages = []int{}
	}
	return out
}

// GetMovie handles GET /api/movies/{id}
func GetMovie(c CatalogAPI, cache Cache, pub *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathParam(w, r, rid, "id")
		if !ok {
			return
		}

		key := "movie:" + id
		resp, hit := cache.Get(key)
		if !hit {
			m, err := c.GetMovie(r.Context(), id)
			if err != nil {
				writeUpstreamError(w, r, rid, err)
				return
			}
			resp = toMovieResponse(m)
			cache.Set(key, resp)
		}

		api.WriteJSON(w, http.StatusOK, resp)
		pub.Publish(analytics.SubjectMovieViewed, "catalog.movie_viewed", map[string]any{"movie_id": id})
	}
}

func listQueryFrom(q url.Values) catalog.ListQuery {
	return catalog.ListQuery{
		Keyword:     strings.TrimSpace(q.Get("keyword")),
		Page:        parseInt(q.Get("page"), 1, 1, 10000),
		Magnet:      firstNonEmpty(q.Get("magnet"), "exist"),
		Type:        firstNonEmpty(q.Get("type"), "normal"),
		FilterType:  q.Get("filterType"),
		FilterValue: q.Get("filterValue"),
	}
}

func listMovies(w http.ResponseWriter, r *http.Request, rid string, c CatalogAPI, cache Cache, lq catalog.ListQuery) bool {
	key := fmt.Sprintf("movies:%s:%d:%s:%s:%s:%s", lq.Keyword, lq.Page, lq.Magnet, lq.Type, lq.FilterType, lq.FilterValue)
	if cached, ok := cache.Get(key); ok {
		api.WriteJSON(w, http.StatusOK, cached)
		return true
	}
	l, err := c.ListMovies(r.Context(), lq)
	if err != nil {
		writeUpstreamError(w, r, rid, err)
		return false
	}
	resp := toMovieListResponse(l)
	cache.Set(key, resp)
	api.WriteJSON(w, http.StatusOK, resp)
	return true
}

// ListMovies handles GET /api/movies?page=&magnet=&type=&filterType=&filterValue=
// A keyword switches to the search endpoint.
func ListMovies(c CatalogAPI, cache Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		listMovies(w, r, rid, c, cache, listQueryFrom(r.URL.Query()))
	}
}

// SearchMovies handles GET /api/movies/search?keyword=
func SearchMovies(c CatalogAPI, cache Cache, pub *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		lq := listQueryFrom(r.URL.Query())
		if lq.Keyword == "" {
			api.BadRequest(w, "MISSING_KEYWORD", "keyword is required", rid, nil)
			return
		}
		if listMovies(w, r, rid, c, cache, lq) {
			pub.Publish(analytics.SubjectSearchPerformed, "search.performed", map[string]any{
				"keyword": lq.Keyword,
				"page":    lq.Page,
			})
		}
	}
}
