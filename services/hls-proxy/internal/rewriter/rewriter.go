package rewriter

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"

	"github.com/example/catalog-stream/internal/platform/signing"
	"github.com/example/catalog-stream/services/hls-proxy/internal/manifest"
)

// StreamPath is the proxy endpoint every rewritten reference points at.
const StreamPath = "/proxy/stream"

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

type Options struct {
	// PublicBase is prepended to StreamPath. Empty yields same-origin
	// relative references.
	PublicBase     string
	RewriteTagURIs bool
	// Signer adds exp/sig parameters when enabled.
	Signer *signing.Signer
}

type Rewriter struct {
	opts     Options
	endpoint string
}

func New(opts Options) *Rewriter {
	opts.PublicBase = strings.TrimRight(opts.PublicBase, "/")
	return &Rewriter{opts: opts, endpoint: opts.PublicBase + StreamPath}
}

// Rewrite returns a new document whose URI lines point back at the proxy.
func (rw *Rewriter) Rewrite(doc manifest.Document) manifest.Document {
	lines := strings.Split(doc.RawText, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		body, cr := strings.CutSuffix(line, "\r")
		trim := strings.TrimSpace(body)
		switch {
		case trim == "":
			out = append(out, line)
		case strings.HasPrefix(trim, "#"):
			if rw.opts.RewriteTagURIs && strings.Contains(trim, `URI="`) {
				body = rw.rewriteURITag(body, doc.BaseURL)
				if cr {
					body += "\r"
				}
				out = append(out, body)
				continue
			}
			out = append(out, line)
		default:
			body = rw.rewriteRef(trim, doc.BaseURL)
			if cr {
				body += "\r"
			}
			out = append(out, body)
		}
	}
	return doc.WithText(strings.Join(out, "\n"))
}

// Wrap returns the proxy reference for an absolute upstream URL.
func (rw *Rewriter) Wrap(abs string) string {
	signed := signing.Signed{URL: abs}
	if rw.opts.Signer.Enabled() {
		signed = rw.opts.Signer.SignNow(abs)
	}
	return signing.BuildSignedURL(rw.endpoint, signed)
}

// Unwrap returns the upstream URL carried by a proxy reference.
func (rw *Rewriter) Unwrap(ref string) (string, bool) {
	if !rw.IsProxied(ref) {
		return "", false
	}
	_, rawQuery, _ := strings.Cut(ref, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", false
	}
	inner := q.Get("url")
	return inner, inner != ""
}

// IsProxied reports whether ref already targets this proxy's stream endpoint,
// either as a relative reference or under the configured public base.
func (rw *Rewriter) IsProxied(ref string) bool {
	if strings.HasPrefix(ref, StreamPath+"?") {
		return true
	}
	return rw.opts.PublicBase != "" && strings.HasPrefix(ref, rw.endpoint+"?")
}

func (rw *Rewriter) rewriteRef(ref, base string) string {
	if rw.IsProxied(ref) {
		return ref
	}
	return rw.Wrap(manifest.Resolve(base, ref))
}

func (rw *Rewriter) rewriteURITag(line, base string) string {
	return uriAttr.ReplaceAllStringFunc(line, func(m string) string {
		sub := uriAttr.FindStringSubmatch(m)
		if len(sub) < 2 || sub[1] == "" {
			return m
		}
		return `URI="` + rw.rewriteRef(sub[1], base) + `"`
	})
}
