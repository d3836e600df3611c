package http

import (
	"net/http"
	"strings"

	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/log"
)

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// authenticate resolves the bearer token and stores the principal, its
// session and delegated token on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, p, err := s.resolver.Resolve(r.Context(), identity.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Authentication failed", log.FieldError, err)
			writeError(w, r, err)
			return
		}
		logger := log.FromContext(ctx).With(log.FieldPrincipalID, p.ID)
		ctx = log.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated caller. Routes behind authenticate
// always have one.
func principal(r *http.Request) core.Principal {
	p, _ := identity.PrincipalFrom(r.Context())
	return p
}
