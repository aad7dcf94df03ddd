package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestContentCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewContentCache(newClient(mr), time.Minute)
	calls := 0
	load := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`[{"id":"s1","title":"Photosynthesis"}]`), nil
	}

	if _, err := cache.GetOrLoad(context.Background(), "ideas:plants", load); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected loader called once, got %d", calls)
	}
	if !mr.Exists("ideatorio:content:ideas:plants") {
		t.Fatalf("expected content stored in redis")
	}

	// Second call should hit cache, loader not incremented.
	data, _ := cache.GetOrLoad(context.Background(), "ideas:plants", load)
	if calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", calls)
	}
	if string(data) != `[{"id":"s1","title":"Photosynthesis"}]` {
		t.Fatalf("unexpected cached data %s", data)
	}

	mr.FastForward(2 * time.Minute)
	_, _ = cache.GetOrLoad(context.Background(), "ideas:plants", load)
	if calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls=%d", calls)
	}
}
