package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"moneymanager/internal/log"
)

func TestDetector_Inspect(t *testing.T) {
	d := NewDetector(log.Nop(), nil)
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   string
	}{
		{"plain api call", http.MethodGet, "/api/transactions", "Mozilla/5.0", ""},
		{"curl is fine", http.MethodPost, "/api/family/join", "curl/8.4", ""},
		{"traversal", http.MethodGet, "/api/../etc/passwd", "", "pattern"},
		{"script in query", http.MethodGet, "/api/stats?next=javascript:alert(1)", "", "pattern"},
		{"scanner agent", http.MethodGet, "/", "sqlmap/1.7", "agent"},
		{"trace method", "TRACE", "/", "", "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			r.Header.Set("User-Agent", tt.agent)
			if got := d.Inspect(r); got != tt.want {
				t.Fatalf("Inspect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetector_Middleware(t *testing.T) {
	d := NewDetector(log.Nop(), prometheus.NewRegistry())
	var reached int
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached++ }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("TRACE", "/", nil))
	if rr.Code != http.StatusMethodNotAllowed || reached != 0 {
		t.Fatalf("TRACE status = %d reached = %d", rr.Code, reached)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.env", nil))
	if reached != 1 {
		t.Fatal("pattern matches are logged, not blocked")
	}
}

func TestDetector_ExtractClientIP(t *testing.T) {
	d := NewDetector(log.Nop(), nil)
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:5000", "198.51.100.1", "", "203.0.113.9"},
		{"trusted proxy forwarded", "10.1.2.3:80", "198.51.100.1, 10.1.2.3", "", "198.51.100.1"},
		{"real ip fallback", "127.0.0.1:80", "garbage", "198.51.100.2", "198.51.100.2"},
		{"no port", "192.0.2.4", "", "", "192.0.2.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Fatalf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}

	if err := d.AddTrustedProxy("not-a-cidr"); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("headers = %v", rr.Header())
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS sent over plain HTTP")
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.TLS = &tls.ConnectionState{}
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Strict-Transport-Security") != "max-age=31536000; includeSubDomains" {
		t.Fatalf("HSTS = %q", rr.Header().Get("Strict-Transport-Security"))
	}
}
