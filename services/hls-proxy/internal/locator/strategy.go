package locator

import (
	"strings"

	"github.com/grafana/regexp"
)

// Kind distinguishes the two shapes a located stream can take.
type Kind string

const (
	KindUUID      Kind = "uuid"
	KindDirectURL Kind = "direct_url"
)

// StreamReference is either a streaming-host UUID or a direct .m3u8 URL.
type StreamReference struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (r StreamReference) IsZero() bool { return r.Value == "" }

// Strategy inspects watch-page HTML. Match must not panic and has no side effects.
type Strategy struct {
	Name  string
	Match func(html string) (StreamReference, bool)
}

var (
	uuidPattern = regexp.MustCompile(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)
	uuidExact   = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	pipeToken   = regexp.MustCompile(`m3u8\|([a-f0-9\|]+)\|com\|surrit\|https\|video`)
	playlistURL = regexp.MustCompile(`https://surrit\.com/([a-f0-9-]+)/playlist\.m3u8`)
	videoSrc    = regexp.MustCompile(`video[^>]*src=["'](https://surrit\.com/[^"']+)["']`)
	pathSegment = regexp.MustCompile(`/([a-f0-9-]+)/`)
	anyM3U8     = regexp.MustCompile(`https?://[^"'<>\s]+\.m3u8`)
	jsSource    = regexp.MustCompile(`source\s*=\s*["']+(https?://[^"'<>\s]+\.m3u8)['"]+`)
)

// ValidUUID reports whether s is exactly a canonical 8-4-4-4-12 hex UUID.
func ValidUUID(s string) bool {
	return uuidExact.MatchString(s)
}

// DefaultStrategies is the ordered extraction chain for watch pages.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "pipe_token", Match: matchPipeToken},
		{Name: "playlist_url", Match: matchPlaylistURL},
		{Name: "video_src", Match: matchVideoSrc},
		{Name: "bare_uuid", Match: matchBareUUID},
		{Name: "m3u8_url", Match: matchAnyM3U8},
		{Name: "js_source", Match: matchJSSource},
	}
}

// Extract runs strategies in order. A UUID result returns immediately; a
// direct URL is remembered, later direct matches replace earlier ones, and it
// is returned only when no strategy yields a UUID.
func Extract(html string, strategies []Strategy) (StreamReference, string, bool) {
	var direct StreamReference
	var directBy string
	for _, s := range strategies {
		ref, ok := s.Match(html)
		if !ok {
			continue
		}
		if ref.Kind == KindUUID {
			return ref, s.Name, true
		}
		direct, directBy = ref, s.Name
	}
	if direct.IsZero() {
		return StreamReference{}, "", false
	}
	return direct, directBy, true
}

// m3u8|a|b|c|d|e|com|surrit|https|video -> e-d-c-b-a
func matchPipeToken(html string) (StreamReference, bool) {
	m := pipeToken.FindStringSubmatch(html)
	if m == nil {
		return StreamReference{}, false
	}
	parts := strings.Split(m[1], "|")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return uuidRef(strings.Join(parts, "-"))
}

func matchPlaylistURL(html string) (StreamReference, bool) {
	m := playlistURL.FindStringSubmatch(html)
	if m == nil {
		return StreamReference{}, false
	}
	return uuidRef(m[1])
}

func matchVideoSrc(html string) (StreamReference, bool) {
	m := videoSrc.FindStringSubmatch(html)
	if m == nil {
		return StreamReference{}, false
	}
	src := m[1]
	if strings.HasSuffix(src, ".m3u8") {
		return StreamReference{Kind: KindDirectURL, Value: src}, true
	}
	seg := pathSegment.FindStringSubmatch(src)
	if seg == nil {
		return StreamReference{}, false
	}
	return uuidRef(seg[1])
}

func matchBareUUID(html string) (StreamReference, bool) {
	u := uuidPattern.FindString(html)
	if u == "" {
		return StreamReference{}, false
	}
	return StreamReference{Kind: KindUUID, Value: u}, true
}

func matchAnyM3U8(html string) (StreamReference, bool) {
	u := anyM3U8.FindString(html)
	if u == "" {
		return StreamReference{}, false
	}
	return StreamReference{Kind: KindDirectURL, Value: u}, true
}

func matchJSSource(html string) (StreamReference, bool) {
	m := jsSource.FindStringSubmatch(html)
	if m == nil {
		return StreamReference{}, false
	}
	return StreamReference{Kind: KindDirectURL, Value: m[1]}, true
}

func uuidRef(candidate string) (StreamReference, bool) {
	if !ValidUUID(candidate) {
		return StreamReference{}, false
	}
	return StreamReference{Kind: KindUUID, Value: candidate}, true
}
