// Package fanza scrapes movie descriptions from FANZA detail pages.
package fanza

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("fanza: summary unavailable")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type Result struct {
	Summary string `json:"summary"`
	Source  string `json:"source"`
	URL     string `json:"url"`
	FanzaID string `json:"fanza_id"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        *zap.Logger
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://www.dmm.co.jp"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CandidateIDs returns the content ids tried for movieID, in order.
func CandidateIDs(movieID string) []string {
	lower := strings.ToLower(strings.TrimSpace(movieID))
	if lower == "" {
		return nil
	}
	compact := strings.NewReplacer("-", "", "_", "").Replace(lower)
	if compact == lower {
		return []string{lower}
	}
	return []string{lower, compact}
}

func (c *Client) candidateURLs(cid string) []string {
	return []string{
		c.BaseURL + "/digital/videoa/-/detail/=/cid=" + cid + "/",
		c.BaseURL + "/mono/dvd/-/detail/=/cid=" + cid + "/",
	}
}

// Summary fetches candidate pages in order and returns the first description found.
func (c *Client) Summary(ctx context.Context, movieID string) (Result, error) {
	for _, cid := range CandidateIDs(movieID) {
		for _, u := range c.candidateURLs(cid) {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			doc, err := c.fetch(ctx, u)
			if err != nil {
				c.Log.Debug("fanza candidate failed", zap.String("url", u), zap.Error(err))
				continue
			}
			if summary := Extract(doc); summary != "" {
				return Result{Summary: summary, Source: "fanza", URL: u, FanzaID: cid}, nil
			}
		}
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnavailable, movieID)
}

func (c *Client) fetch(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.7,en;q=0.3")
	req.AddCookie(&http.Cookie{Name: "age_check_done", Value: "1"})

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fanza: status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// Extract returns the first non-empty description in priority order:
// JSON-LD, the description block, og:description, meta description.
func Extract(doc *goquery.Document) string {
	if s := fromJSONLD(doc); s != "" {
		return s
	}
	if s := clean(doc.Find("div.mg-b20.lh4").First().Text()); s != "" {
		return s
	}
	if s, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && clean(s) != "" {
		return clean(s)
	}
	if s, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && clean(s) != "" {
		return clean(s)
	}
	return ""
}

func fromJSONLD(doc *goquery.Document) string {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		var one struct {
			Description string `json:"description"`
		}
		if json.Unmarshal([]byte(raw), &one) == nil && clean(one.Description) != "" {
			found = clean(one.Description)
			return false
		}
		var many []struct {
			Description string `json:"description"`
		}
		if json.Unmarshal([]byte(raw), &many) == nil {
			for _, m := range many {
				if d := clean(m.Description); d != "" {
					found = d
					return false
				}
			}
		}
		return true
	})
	return found
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
