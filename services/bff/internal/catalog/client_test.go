package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(baseURL, ClientConfig{MaxRetries: 2, RetryBaseDelay: time.Millisecond, Referer: "https://www.example.com/"}, opts...)
}

// ─── Typed calls ─────────────────────────────────────────────────────────────

func TestGetMovie_DecodesFlexibleFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/movies/ABC-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Referer") != "https://www.example.com/" || r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing browser headers: %v", r.Header)
		}
		_, _ = w.Write([]byte(`{"id":"ABC-123","title":"T","img":"https://img/x.jpg","videoLength":120,"gid":"42","uc":0,
			"publisher":{"id":"p1","name":"Pub"},"genres":[{"id":"g","name":"Drama"}],
			"samples":[{"id":"s1","src":"https://img/s1.jpg","thumbnail":"https://img/t1.jpg"}]}`))
	}))
	defer srv.Close()

	m, err := newTestClient(t, srv.URL+"/api/").GetMovie(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.VideoLength != "120" || m.Gid != "42" || m.Uc != "0" {
		t.Fatalf("flexible fields not decoded: %+v", m)
	}
	if m.Publisher == nil || m.Publisher.Name != "Pub" || len(m.Samples) != 1 {
		t.Fatalf("unexpected movie %+v", m)
	}
}

func TestListMovies_SearchEndpointWithKeyword(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.Query()
		_, _ = w.Write([]byte(`{"movies":[],"pagination":{"currentPage":2,"hasNextPage":false,"pages":[1,2]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.ListMovies(context.Background(), ListQuery{Keyword: "abc", Page: 2, Magnet: "exist"}); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/movies/search" || gotQuery.Get("keyword") != "abc" || gotQuery.Get("page") != "2" || gotQuery.Get("magnet") != "exist" {
		t.Fatalf("unexpected request %s %v", gotPath, gotQuery)
	}
	if gotQuery.Has("type") {
		t.Fatal("empty fields must be omitted")
	}

	if _, err := c.ListMovies(context.Background(), ListQuery{FilterType: "star", FilterValue: "s1"}); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/movies" || gotQuery.Get("filterType") != "star" {
		t.Fatalf("unexpected request %s %v", gotPath, gotQuery)
	}
}

func TestGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(map[string]any{"id": "s1", "name": "Star", "age": 25, "bust": "88"})
		_ = gz.Close()
	}))
	defer srv.Close()

	s, err := newTestClient(t, srv.URL).GetStar(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "Star" || s.Age != "25" || s.Bust != "88" {
		t.Fatalf("unexpected star %+v", s)
	}
}

// ─── Errors and retry ────────────────────────────────────────────────────────

func TestStatusErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"missing"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetMovie(context.Background(), "nope")
	if StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected status 404, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || string(se.Body) != `{"error":"missing"}` {
		t.Fatalf("expected body on status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
	if !BreakerSuccess(err) {
		t.Fatal("4xx must not count as breaker failure")
	}
}

func TestTransportError_NoStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, "http://"+addr)
	_, err = c.GetMovie(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if StatusCode(err) != 0 || BreakerSuccess(err) {
		t.Fatal("transport errors carry no status and count as failures")
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	c := New("http://127.0.0.1:1", ClientConfig{MaxRetries: 5, RetryBaseDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.GetMovie(ctx, "x"); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry delay ignored context")
	}
}

// cancelOnTake stands in for a limiter whose queue outlasts the caller.
type cancelOnTake struct{ cancel context.CancelFunc }

func (l cancelOnTake) Take() time.Time {
	l.cancel()
	return time.Now()
}

func TestLimiterWaitHonoursCancelledCaller(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.Limiter = cancelOnTake{cancel: cancel}

	if _, err := c.GetMovie(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := c.FetchImage(ctx, srv.URL+"/a.jpg"); !errors.Is(err, context.Canceled) {
		t.Fatalf("image: expected context.Canceled, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("no request should reach upstream, got %d", hits.Load())
	}
}

// ─── Forward / images ────────────────────────────────────────────────────────

func TestForward(t *testing.T) {
	var gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"path":"` + r.URL.Path + `","q":"` + r.URL.RawQuery + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	raw, err := c.Forward(context.Background(), http.MethodGet, "/movies", url.Values{"page": {"3"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw.Body) != `{"ok":true,"path":"/movies","q":"page=3"}` || gotMethod != http.MethodGet {
		t.Fatalf("unexpected forward result %s", raw.Body)
	}

	if _, err := c.Forward(context.Background(), http.MethodPost, "stars/search", nil, []byte(`{"k":1}`)); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotBody != `{"k":1}` {
		t.Fatalf("unexpected POST %s %q", gotMethod, gotBody)
	}

	for _, bad := range []string{"../admin", "http://evil.example/x"} {
		if _, err := c.Forward(context.Background(), http.MethodGet, bad, nil, nil); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("%q: expected ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Referer") == "" {
			t.Errorf("image request without referer")
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNG"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.FetchImage(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if _, err := c.FetchImage(context.Background(), srv.URL+"/missing.jpg"); StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestText_Unmarshal(t *testing.T) {
	var v struct {
		A Text `json:"a"`
		B Text `json:"b"`
		C Text `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"x","b":1.5,"c":null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "x" || v.B != "1.5" || v.C != "" {
		t.Fatalf("unexpected %+v", v)
	}
}
