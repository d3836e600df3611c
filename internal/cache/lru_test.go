package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"moneymanager/internal/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	// a was just used, so b is the eviction candidate
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be deleted")
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var evicted []string
	c := NewLRUCache[int](10, time.Minute,
		WithClock[int](clock.Now),
		WithEvictHook(func(key string, _ int) { evicted = append(evicted, key) }),
	)

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("b", 3) // refresh

	clock.Advance(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if v, ok := c.Get("b"); !ok || v != 3 {
		t.Fatalf("Get(b) = %d, %v", v, ok)
	}

	clock.Advance(time.Minute)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired() = %d, want 1", n)
	}
	if len(evicted) != 2 || evicted[0] != "a" || evicted[1] != "b" {
		t.Fatalf("evicted = %v", evicted)
	}
}

func TestLRUCache_Update(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute, WithClock[int](clock.Now))

	if c.Update("missing", func(v int) int { return v + 1 }) {
		t.Fatal("Update on missing key should fail")
	}
	c.Set("a", 1)
	clock.Advance(50 * time.Second)
	if !c.Update("a", func(v int) int { return v + 1 }) {
		t.Fatal("Update should succeed")
	}
	clock.Advance(20 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("Update must not extend the TTL")
	}
}

func TestManager_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c1 := NewLRUCache[int](10, time.Second, WithClock[int](clock.Now))
	c2 := NewLRUCache[string](10, time.Hour, WithClock[string](clock.Now))
	c1.Set("x", 1)
	c2.Set("y", "z")

	m := NewManager(log.Nop())
	m.Register(c1)
	m.Register(c2)

	clock.Advance(2 * time.Second)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("Run() = %v", err)
	}
}
