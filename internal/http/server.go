package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"moneymanager/internal/identity"
	"moneymanager/internal/log"
	"moneymanager/internal/middleware/ratelimit"
	"moneymanager/internal/middleware/security"
	"moneymanager/internal/middleware/trace"
	"moneymanager/internal/services"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Families *services.FamilyService
	Catalog  *services.CatalogService
	Ledger   *services.Ledger
	Resolver *identity.Resolver

	// Store is checked by /readyz.
	Store Pinger
	// Registry backs /metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry

	RateLimitPerMinute int
	Logger             *log.Logger
}

type Server struct {
	http.Server

	families *services.FamilyService
	catalog  *services.CatalogService
	ledger   *services.Ledger
	resolver *identity.Resolver
	store    Pinger
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	started  time.Time
	now      func() time.Time

	// baseCtx is cancelled on shutdown so open streams end.
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server speaking HTTP/1.1 and cleartext HTTP/2.
func NewServer(addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		families: d.Families,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		resolver: d.Resolver,
		store:    d.Store,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: d.RateLimitPerMinute}),
		logger:   logger,
		started:  time.Now(),
		now:      time.Now,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	s.routes(mux, reg)

	detector := security.NewDetector(logger, reg)
	tracer := trace.NewMiddleware(logger, trace.NewMetrics(reg), detector.ExtractClientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		NewJSONResponse().
			Status(http.StatusTooManyRequests).
			Body(ErrorBody{Error: "rate limit exceeded, try again later", Code: "rate_limited"}).
			Write(w)
	})

	var h http.Handler = mux
	h = limit(h)
	h = detector.Middleware(h)
	h = headers.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(logger)(h)
	h = tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(h, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux, reg *prometheus.Registry) {
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trace.LabelRoute(r)
			h.ServeHTTP(w, r)
		}))
	}
	api := func(pattern string, h http.HandlerFunc) {
		handle(pattern, s.authenticate(h))
	}

	handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	handle("GET /readyz", http.HandlerFunc(s.handleReady))
	handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	api("GET /api/me", s.handleMe)
	api("PUT /api/session/drive-token", s.handleSetDriveToken)
	api("DELETE /api/session/drive-token", s.handleClearDriveToken)
	api("DELETE /api/session", s.handleSignOut)

	api("GET /api/family", s.handleGetFamily)
	api("POST /api/family", s.handleCreateFamily)
	api("DELETE /api/family", s.handleDeleteFamily)
	api("POST /api/family/leave", s.handleLeaveFamily)
	api("DELETE /api/family/members/{id}", s.handleRemoveMember)
	api("POST /api/family/invite-codes", s.handleCreateInviteCode)
	api("POST /api/family/join", s.handleJoinWithCode)
	api("POST /api/family/invites", s.handleInviteMember)

	api("GET /api/invites", s.handlePendingInvites)
	api("POST /api/invites/{id}/accept", s.handleAcceptInvite)
	api("POST /api/invites/{id}/decline", s.handleDeclineInvite)

	api("GET /api/catalog/{kind}", s.handleListCatalog)
	api("POST /api/catalog/{kind}", s.handleAddCatalog)
	api("PUT /api/catalog/{kind}/{id}/subscription", s.handleSubscribeCatalog)
	api("DELETE /api/catalog/{kind}/{id}/subscription", s.handleUnsubscribeCatalog)

	api("GET /api/transactions", s.handleListTransactions)
	api("POST /api/transactions", s.handleCreateTransaction)
	api("PATCH /api/transactions/{id}", s.handleUpdateTransaction)
	api("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api("GET /api/stats", s.handleStats)

	api("GET /api/stream/transactions", s.handleStreamTransactions)
	api("GET /api/stream/family", s.handleStreamFamily)
	api("GET /api/stream/invites", s.handleStreamInvites)
}

// Shutdown ends open streams, stops background work and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.cancelBase()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks the document store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]string{"store": "ok"}
	if s.store == nil {
		checks["store"] = "not configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		checks["store"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
