package cache

import (
	"sort"
	"testing"
	"time"

	"github.com/smallbiznis/catalog/internal/clock"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[int64, string](WithClock(fake))

	c.Set(7, "seven", time.Second)
	if got, ok := c.Get(7); !ok || got != "seven" {
		t.Fatalf("expected cached value, got %q ok=%v", got, ok)
	}

	fake.Advance(time.Second)
	if _, ok := c.Get(7); ok {
		t.Fatalf("expected entry to expire after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, len=%d", c.Len())
	}
}

func TestTTLCacheValuesSkipsExpired(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[int64, int](WithClock(fake))

	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Minute)
	c.Set(3, 3, 0)

	fake.Advance(2 * time.Second)

	values := c.Values()
	sort.Ints(values)
	if len(values) != 2 || values[0] != 2 || values[1] != 3 {
		t.Fatalf("expected [2 3], got %v", values)
	}
}

func TestTTLCacheSetRefreshesExpiry(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](WithClock(fake))

	c.Set("k", 1, 2*time.Second)
	fake.Advance(time.Second)
	c.Set("k", 2, 2*time.Second)
	fake.Advance(time.Second + 500*time.Millisecond)

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Fatalf("expected refreshed entry, got %d ok=%v", got, ok)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected deleted entry to be gone")
	}
}
