// Package manifest holds the text model for .m3u8 documents: URL
// classification, base derivation and playlist type detection.
package manifest

import (
	"net/url"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

// Document is a fetched manifest and the URL it came from. Values are never
// mutated; rewriting produces a new Document.
type Document struct {
	RawText   string
	SourceURL string
	BaseURL   string
}

// NewDocument derives BaseURL from sourceURL. When sourceURL cannot be parsed
// BaseURL is left empty and relative lines cannot be resolved.
func NewDocument(text, sourceURL string) Document {
	base, _ := BaseURL(sourceURL)
	return Document{RawText: text, SourceURL: sourceURL, BaseURL: base}
}

// WithText returns a copy of d carrying text.
func (d Document) WithText(text string) Document {
	d.RawText = text
	return d
}

// IsAbsolute reports whether ref already names an upstream URL.
func IsAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http")
}

// BaseURL returns scheme://host/dir/ for sourceURL, dropping the last path
// segment, the query and the fragment.
func BaseURL(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", err
	}
	dir := u.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}
	u.Path = dir
	u.RawPath = ""
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String(), nil
}

// Resolve returns ref unchanged when absolute, otherwise ref resolved against
// base. On a parse failure the best effort is base+ref.
func Resolve(base, ref string) string {
	if IsAbsolute(ref) {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return b.ResolveReference(r).String()
}

// Dir returns rawURL without its last path segment and without a trailing
// slash: https://h/a/b.m3u8 -> https://h/a.
func Dir(rawURL string) string {
	base, err := BaseURL(rawURL)
	if err != nil {
		if i := strings.LastIndex(rawURL, "/"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	return strings.TrimSuffix(base, "/")
}

// IsManifest reports whether a response should go through the rewriter.
func IsManifest(contentType, targetURL string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	if u, err := url.Parse(targetURL); err == nil {
		return strings.EqualFold(path.Ext(u.Path), ".m3u8")
	}
	return strings.HasSuffix(strings.ToLower(targetURL), ".m3u8")
}

// Kind is the playlist type as reported by the m3u8 decoder.
type Kind string

const (
	KindMaster  Kind = "master"
	KindMedia   Kind = "media"
	KindUnknown Kind = "unknown"
)

// Classify decodes text leniently. It is only used for logs and metrics.
func Classify(text string) (kind Kind) {
	defer func() {
		if recover() != nil {
			kind = KindUnknown
		}
	}()
	_, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return KindUnknown
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	default:
		return KindUnknown
	}
}
