package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/example/catalog-stream/internal/platform/analytics"
)

// CatalogService is everything the routes need from the catalog client.
type CatalogService interface {
	CatalogAPI
	Forwarder
	ImageFetcher
}

type Deps struct {
	Catalog      CatalogService
	Cache        Cache
	Summaries    SummaryFetcher
	Translator   Translator
	Analytics    *analytics.Publisher
	ImageBaseURL string
}

func Routes(r chi.Router, d Deps) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/movies", ListMovies(d.Catalog, d.Cache))
		r.Get("/movies/search", SearchMovies(d.Catalog, d.Cache, d.Analytics))
		r.Get("/movies/{id}", GetMovie(d.Catalog, d.Cache, d.Analytics))
		r.Get("/stars/search", SearchStars(d.Catalog))
		r.Get("/stars/{id}", GetStar(d.Catalog, d.Cache))
		r.Get("/magnets/{id}", GetMagnets(d.Catalog))
		r.Get("/images/{movieId}/{name}", GetImage(d.Catalog, d.Catalog, d.ImageBaseURL))
		r.Get("/movie-summary/{id}", GetMovieSummary(d.Summaries, d.Cache))
		r.Post("/translate", Translate(d.Translator, d.Cache))
		r.Get("/proxy", APIProxy(d.Catalog))
		r.Post("/proxy", APIProxy(d.Catalog))
	})
}
