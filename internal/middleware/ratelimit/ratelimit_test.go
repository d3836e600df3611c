package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_Window(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newLimiter(Config{RequestsPerMinute: 2}, c.Now)

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("request %d denied", i+1)
		}
	}
	c.Add(20 * time.Second)
	ok, retry := rl.Allow("a")
	if ok {
		t.Fatal("third request in the window allowed")
	}
	if retry != 40*time.Second {
		t.Fatalf("retryAfter = %v", retry)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Fatal("other client denied")
	}

	c.Add(40 * time.Second)
	if ok, _ := rl.Allow("a"); !ok {
		t.Fatal("request in the next window denied")
	}
	if m := rl.GetMetrics(); m.TotalHits != 1 || m.ClientCount != 2 {
		t.Fatalf("metrics = %+v", m)
	}

	c.Add(11 * time.Minute)
	if removed := rl.cleanupStaleEntries(); removed != 2 || rl.ActiveClients() != 0 {
		t.Fatalf("removed %d, active %d", removed, rl.ActiveClients())
	}
}

func TestLimiter_Middleware(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newLimiter(Config{RequestsPerMinute: 1}, c.Now)
	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(method string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, "/api/transactions", nil))
		return rr
	}

	if rr := do(http.MethodPost); rr.Code != http.StatusOK {
		t.Fatalf("first POST = %d", rr.Code)
	}
	rr := do(http.MethodPost)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("second POST = %d retry %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if rr := do(http.MethodGet); rr.Code != http.StatusOK {
		t.Fatalf("GET limited: %d", rr.Code)
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
