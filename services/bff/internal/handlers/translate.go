package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/example/catalog-stream/internal/platform/api"
	"github.com/example/catalog-stream/internal/platform/httpserver"
	"github.com/example/catalog-stream/services/bff/internal/translate"
)

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type translateRequest struct {
	Text             string `json:"text"`
	TranslateSummary bool   `json:"translate_summary"`
	MovieID          string `json:"movie_id"`
}

type translateResponse struct {
	Status         string `json:"status"`
	TranslatedText string `json:"translated_text"`
}

// Translate handles POST /api/translate. Summary translations are cached per
// movie and source text.
func Translate(t Translator, cache Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req translateRequest
		if !decodeJSON(w, r, rid, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			api.BadRequest(w, "MISSING_TEXT", "Missing text to translate", rid, nil)
			return
		}

		key := ""
		if req.TranslateSummary && req.MovieID != "" {
			key = translationKey(req.MovieID, req.Text)
			if cached, ok := cache.Get(key); ok {
				api.WriteJSON(w, http.StatusOK, cached)
				return
			}
		}

		out, err := t.Translate(r.Context(), req.Text)
		if err != nil {
			writeTranslateError(w, rid, err)
			return
		}
		resp := translateResponse{Status: "success", TranslatedText: out}
		if key != "" {
			cache.Set(key, resp)
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// translationKey scopes a cached summary translation to both the movie and
// the exact source text.
func translationKey(movieID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "translation:" + movieID + ":" + hex.EncodeToString(sum[:])
}

func writeTranslateError(w http.ResponseWriter, rid string, err error) {
	var se *translate.StatusError
	switch {
	case errors.Is(err, translate.ErrMissingURL), errors.Is(err, translate.ErrMissingToken):
		api.BadRequest(w, "TRANSLATION_NOT_CONFIGURED", err.Error(), rid, nil)
	case errors.Is(err, translate.ErrNoText):
		api.WriteError(w, http.StatusInternalServerError, "TRANSLATION_EMPTY", "Could not extract translated text from API response", rid, nil)
	case errors.As(err, &se):
		api.WriteError(w, se.StatusCode, "TRANSLATION_FAILED", "Translation request failed", rid, nil)
	default:
		api.BadGateway(w, "TRANSLATION_FAILED", "Translation request failed", rid)
	}
}
