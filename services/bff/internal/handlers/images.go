package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
)

// ImageFetcher opens upstream image URLs. The caller closes the body.
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL string) (*http.Response, error)
}

var errBadSampleIndex = errors.New("invalid sample index")

// coverURL maps a listing thumbnail to its full-size cover.
func coverURL(thumb, imageBase string) string {
	switch {
	case strings.Contains(thumb, "thumb"):
		id := strings.TrimSuffix(path.Base(thumb), path.Ext(thumb))
		if id == "" || id == "." || id == "/" {
			return thumb
		}
		return imageBase + "/pics/cover/" + id + "_b.jpg"
	case strings.Contains(thumb, "pics.dmm.co.jp") && strings.Contains(thumb, "ps.jpg"):
		return strings.Replace(thumb, "ps.jpg", "pl.jpg", 1)
	}
	return thumb
}

// resolveImage maps an image name under a movie to its upstream URL. Lookup
// failures resolve to "" so the caller answers 404.
func resolveImage(ctx context.Context, c CatalogAPI, movieID, name, imageBase string) (string, error) {
	stem := strings.TrimSuffix(name, path.Ext(name))
	switch {
	case name == "cover.jpg" || stem == "cover":
		m, err := c.GetMovie(ctx, movieID)
		if err != nil || m.Img == "" {
			return "", nil
		}
		return coverURL(m.Img, imageBase), nil

	case strings.HasPrefix(stem, "actor_"):
		s, err := c.GetStar(ctx, strings.TrimPrefix(stem, "actor_"))
		if err != nil {
			return "", nil
		}
		return s.Avatar, nil

	case strings.HasPrefix(stem, "sample_"):
		n, err := strconv.Atoi(strings.TrimPrefix(stem, "sample_"))
		if err != nil || n < 1 {
			return "", errBadSampleIndex
		}
		m, err := c.GetMovie(ctx, movieID)
		if err != nil || len(m.Samples) < n {
			return "", nil
		}
		return m.Samples[n-1].Src, nil
	}
	return "", nil
}

// GetImage handles GET /api/images/{movieId}/{name} for cover.jpg,
// actor_<id>.jpg and sample_<n>[.jpg].
func GetImage(c CatalogAPI, f ImageFetcher, imageBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		movieID, ok := pathParam(w, r, rid, "movieId")
		if !ok {
			return
		}
		name, ok := pathParam(w, r, rid, "name")
		if !ok {
			return
		}

		imageURL, err := resolveImage(r.Context(), c, movieID, name, imageBase)
		if errors.Is(err, errBadSampleIndex) {
			api.BadRequest(w, "INVALID_SAMPLE_INDEX", "Invalid sample index", rid, nil)
			return
		}
		if imageURL == "" {
			api.NotFound(w, "NOT_FOUND", "Image not found", rid)
			return
		}

		resp, err := f.FetchImage(r.Context(), imageURL)
		if err != nil {
			api.BadGateway(w, "IMAGE_FETCH_FAILED", "Failed to proxy image", rid)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", firstNonEmpty(resp.Header.Get("Content-Type"), "image/jpeg"))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if resp.ContentLength >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, resp.Body)
	}
}
