package cache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New[int64](4, time.Minute)

	if _, ok := c.Get("u1"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Set("u1", 1250)
	got, ok := c.Get("u1")
	if !ok || got != 1250 {
		t.Fatalf("Get = %d, %v; want 1250, true", got, ok)
	}

	c.Set("u1", 1750)
	if got, _ := c.Get("u1"); got != 1750 {
		t.Fatalf("overwrite: Get = %d, want 1750", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](4, 10*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry served")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d after expired Get, want 0", c.Len())
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now the most recently used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry evicted")
	}
}

func TestInvalidate(t *testing.T) {
	c := New[int](4, time.Minute)
	c.Set("a", 1)
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("invalidated entry served")
	}
	c.Invalidate("missing") // no-op
}

func TestInvalidatePrefix(t *testing.T) {
	c := New[int64](8, time.Minute)
	c.Set("u1|UTC|4", 100)
	c.Set("u1|Europe/Rome|6", 200)
	c.Set("u2|UTC|4", 300)

	c.InvalidatePrefix("u1|")

	if _, ok := c.Get("u1|UTC|4"); ok {
		t.Fatal("prefixed entry survived invalidation")
	}
	if _, ok := c.Get("u1|Europe/Rome|6"); ok {
		t.Fatal("prefixed entry survived invalidation")
	}
	if _, ok := c.Get("u2|UTC|4"); !ok {
		t.Fatal("unrelated entry dropped")
	}
}

func TestSweep(t *testing.T) {
	c := New[int](8, 10*time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(20 * time.Millisecond)
	c.Set("c", 3)

	if n := c.Sweep(); n != 2 {
		t.Fatalf("Sweep = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1", c.Len())
	}
}
