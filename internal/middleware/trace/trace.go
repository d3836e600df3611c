// Package trace stamps every request with an id, logs its start and end and
// records request metrics.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"moneymanager/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"
)

// Metrics holds the request collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moneymanager",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moneymanager",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "moneymanager",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served, streams included.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration, m.InFlight)
	}
	return m
}

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP func(*http.Request) string
	metrics   *Metrics
	events    *log.StructuredLogger
}

// NewMiddleware creates a new trace middleware
func NewMiddleware(logger *log.Logger, metrics *Metrics, extractIP func(*http.Request) string) *Middleware {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Middleware{
		extractIP: extractIP,
		metrics:   metrics,
		events:    log.NewStructuredLogger(logger.WithComponent(log.ComponentTrace)),
	}
}

// Middleware returns HTTP middleware for request tracing
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := incomingRequestID(r)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		route := new(string)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = context.WithValue(ctx, routeKey{}, route)
		r = r.WithContext(ctx)

		m.events.LogHTTPStart(ctx, r, clientIP)
		m.metrics.InFlight.Inc()
		defer m.metrics.InFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		label := routeLabel(r, *route)
		m.metrics.Requests.WithLabelValues(label, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		m.metrics.Duration.WithLabelValues(label, r.Method).Observe(duration.Seconds())

		m.events.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
	})
}

type routeKey struct{}

// LabelRoute records the matched mux pattern of r as its metrics label.
// Handlers registered behind other middleware call it, since those
// middleware hand the mux a copy of the request.
func LabelRoute(r *http.Request) {
	if route, ok := r.Context().Value(routeKey{}).(*string); ok && r.Pattern != "" {
		*route = r.Pattern
	}
}

func routeLabel(r *http.Request, labeled string) string {
	switch {
	case labeled != "":
		return labeled
	case r.Pattern != "":
		return r.Pattern
	default:
		return "unmatched"
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush lets event streams push through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// incomingRequestID accepts a caller supplied id when it is short and
// printable.
func incomingRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, c := range id {
		if c < '!' || c > '~' {
			return ""
		}
	}
	return id
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestID reads the id the trace middleware stored on r.
func RequestID(r *http.Request) string {
	return GetRequestID(r.Context())
}
