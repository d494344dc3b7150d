package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/catalog"
)

type magnetLink struct {
	Name        string `json:"name"`
	Size        string `json:"size"`
	Link        string `json:"link"`
	Date        string `json:"date"`
	IsHD        bool   `json:"is_hd"`
	HasSubtitle bool   `json:"has_subtitle"`
}

func toMagnetLink(m catalog.Magnet) magnetLink {
	return magnetLink{
		Name:        m.DisplayName(),
		Size:        m.Size,
		Link:        m.Link,
		Date:        m.DisplayDate(),
		IsHD:        m.IsHD,
		HasSubtitle: m.HasSubtitle,
	}
}

var sizeUnits = []struct {
	suffix string
	mult   float64
}{
	{"tib", 1 << 40}, {"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"tb", 1 << 40}, {"gb", 1 << 30}, {"mb", 1 << 20}, {"kb", 1 << 10},
	{"b", 1},
}

// parseSize converts "1.5GB" style sizes to bytes. Unparseable sizes are 0.
func parseSize(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, u := range sizeUnits {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
			if err != nil {
				return 0
			}
			return int64(f * u.mult)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func magnetBytes(m catalog.Magnet) int64 {
	if m.NumberSize != nil {
		return *m.NumberSize
	}
	return parseSize(m.Size)
}

// sortMagnets orders HD first, then subtitled, then by size descending.
func sortMagnets(ms []catalog.Magnet) []magnetLink {
	sorted := append([]catalog.Magnet(nil), ms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsHD != b.IsHD {
			return a.IsHD
		}
		if a.HasSubtitle != b.HasSubtitle {
			return a.HasSubtitle
		}
		return magnetBytes(a) > magnetBytes(b)
	})
	out := make([]magnetLink, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, toMagnetLink(m))
	}
	return out
}

// GetMagnets handles GET /api/magnets/{id}?gid=&uc=&sortBy=&sortOrder=
func GetMagnets(c CatalogAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := pathParam(w, r, rid, "id")
		if !ok {
			return
		}
		q := r.URL.Query()
		ms, err := c.GetMagnets(r.Context(), id, catalog.MagnetQuery{
			Gid:       q.Get("gid"),
			Uc:        q.Get("uc"),
			SortBy:    firstNonEmpty(q.Get("sortBy"), "size"),
			SortOrder: firstNonEmpty(q.Get("sortOrder"), "desc"),
		})
		if err != nil {
			writeUpstreamError(w, r, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, sortMagnets(ms))
	}
}
