package cache

import (
	"context"
	"testing"
	"time"
)

type ref struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache(100, time.Minute)
	ctx := context.Background()

	var got ref
	hit, err := c.Get(ctx, "locate:ABC-123", &got)
	if err != nil || hit {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}

	want := ref{Kind: "uuid", Value: "deadbeef-dead-beef-dead-beefdeadbeef"}
	if err := c.Set(ctx, "locate:ABC-123", want); err != nil {
		t.Fatal(err)
	}
	hit, err = c.Get(ctx, "locate:ABC-123", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestMemoryCache_Expires(t *testing.T) {
	c := NewMemoryCache(100, 50*time.Millisecond)
	ctx := context.Background()
	if err := c.Set(ctx, "k", ref{Value: "v"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var got ref
		hit, _ := c.Get(ctx, "k", &got)
		if !hit {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("entry did not expire")
}

func TestNewRedisCache_BadURL(t *testing.T) {
	if _, err := NewRedisCache("not-a-redis-url", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}
