package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	"go.uber.org/zap"

	"github.com/example/catalog-stream/services/hls-proxy/internal/manifest"
	"github.com/example/catalog-stream/services/hls-proxy/internal/upstream"
)

// ErrUnreachable is returned when the derived playlist URL does not answer 2xx.
var ErrUnreachable = errors.New("playlist unreachable")

var resolutionAttr = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)

// Rendition is one variant of a master playlist, keyed by height.
type Rendition struct {
	HeightPx     int
	WidthPx      int
	RelativePath string
}

// Table maps height to rendition. It is rebuilt for every playlist fetch.
type Table map[int]Rendition

// Heights returns the table keys in ascending order.
func (t Table) Heights() []int {
	hs := make([]int, 0, len(t))
	for h := range t {
		hs = append(hs, h)
	}
	sort.Ints(hs)
	return hs
}

type Config struct {
	StreamHost     string
	PlaylistSuffix string
	MaxBodyBytes   int64
}

type Resolver struct {
	cfg    Config
	client *upstream.Client
	log    *zap.Logger
}

type Option func(*Resolver)

func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

func New(cfg Config, client *upstream.Client, opts ...Option) *Resolver {
	if cfg.PlaylistSuffix == "" {
		cfg.PlaylistSuffix = "/playlist.m3u8"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	r := &Resolver{cfg: cfg, client: client, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// PlaylistURL derives the master playlist location for uuid.
func (r *Resolver) PlaylistURL(uuid string) string {
	return r.cfg.StreamHost + uuid + r.cfg.PlaylistSuffix
}

// ResolvePlaylistURL derives the playlist URL and checks it with a single GET.
func (r *Resolver) ResolvePlaylistURL(ctx context.Context, uuid string) (string, error) {
	playlistURL := r.PlaylistURL(uuid)
	resp, err := r.client.Get(ctx, playlistURL, upstream.ProfileMedia, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if err := upstream.CheckStatus(resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return playlistURL, nil
}

// ParseRenditions collects RESOLUTION attributes. A later tag for the same
// height replaces the earlier one. RelativePath is the first non-comment,
// non-empty line after the tag.
func ParseRenditions(text string) Table {
	lines := strings.Split(text, "\n")
	table := Table{}
	for i, line := range lines {
		for _, m := range resolutionAttr.FindAllStringSubmatch(line, -1) {
			w, errW := strconv.Atoi(m[1])
			h, errH := strconv.Atoi(m[2])
			if errW != nil || errH != nil {
				continue
			}
			table[h] = Rendition{HeightPx: h, WidthPx: w, RelativePath: nextURI(lines[i+1:])}
		}
	}
	return table
}

// SelectRendition picks a variant from the master playlist at playlistURL.
// Any failure yields playlistURL unchanged.
func (r *Resolver) SelectRendition(ctx context.Context, playlistURL, quality string) string {
	text, err := r.fetchText(ctx, playlistURL)
	if err != nil {
		r.log.Warn("playlist fetch failed, using master", zap.String("url", playlistURL), zap.Error(err))
		return playlistURL
	}
	choice, height, ok := Choose(text, quality)
	if !ok {
		return playlistURL
	}
	selected := absolutize(playlistURL, choice)
	r.log.Debug("rendition selected", zap.Int("height", height), zap.String("url", selected))
	return selected
}

// Choose applies the selection rules to master playlist text and returns the
// chosen line (possibly relative) and its height. ok is false when the
// playlist carries no RESOLUTION attributes or no candidate line exists.
func Choose(text, quality string) (line string, height int, ok bool) {
	table := ParseRenditions(text)
	if len(table) == 0 {
		return "", 0, false
	}
	heights := table.Heights()
	lines := strings.Split(text, "\n")

	target, hasTarget := ParseQuality(quality)
	if !hasTarget {
		height = heights[len(heights)-1]
		if len(lines) >= 2 {
			line = strings.TrimSpace(lines[len(lines)-2])
		}
		if line == "" || strings.HasPrefix(line, "#") {
			line = lastURI(lines)
		}
		return line, height, line != ""
	}

	height = closest(heights, target)
	width := table[height].WidthPx
	for _, pattern := range []string{
		fmt.Sprintf("%dx%d/video.m3u8", width, height),
		fmt.Sprintf("%dp/video.m3u8", height),
	} {
		for _, l := range lines {
			if strings.Contains(l, pattern) {
				return strings.TrimSpace(l), height, true
			}
		}
	}
	line = lastURI(lines)
	return line, height, line != ""
}

// ParseQuality accepts "<N>p" (case-insensitive) or a bare number.
func ParseQuality(q string) (int, bool) {
	q = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(q)), "p")
	if q == "" {
		return 0, false
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// closest returns the height nearest target; ties keep the first in
// ascending order.
func closest(heights []int, target int) int {
	best := heights[0]
	for _, h := range heights[1:] {
		if abs(h-target) < abs(best-target) {
			best = h
		}
	}
	return best
}

func (r *Resolver) fetchText(ctx context.Context, rawURL string) (string, error) {
	resp, err := r.client.Get(ctx, rawURL, upstream.ProfileMedia, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := upstream.CheckStatus(resp); err != nil {
		return "", err
	}
	return upstream.ReadText(resp, r.cfg.MaxBodyBytes)
}

func absolutize(playlistURL, ref string) string {
	if manifest.IsAbsolute(ref) {
		return ref
	}
	base, err := manifest.BaseURL(playlistURL)
	if err != nil {
		return manifest.Dir(playlistURL) + "/" + ref
	}
	return manifest.Resolve(base, ref)
}

func nextURI(lines []string) string {
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "#") {
			return l
		}
	}
	return ""
}

func lastURI(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l != "" && !strings.HasPrefix(l, "#") {
			return l
		}
	}
	return ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
