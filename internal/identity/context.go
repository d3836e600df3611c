package identity

import (
	"context"
	"strings"

	"moneymanager/internal/core"
)

type contextKey int

const (
	principalKey contextKey = iota
	sessionKey
	delegatedTokenKey
)

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p core.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored in ctx.
func PrincipalFrom(ctx context.Context) (core.Principal, bool) {
	p, ok := ctx.Value(principalKey).(core.Principal)
	return p, ok && p.ID != ""
}

// CurrentPrincipal is PrincipalFrom with an error for anonymous callers.
func CurrentPrincipal(ctx context.Context) (core.Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return core.Principal{}, core.ErrNotAuthenticated
	}
	return p, nil
}

// WithSessionID returns a context carrying the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionID returns the session id stored in ctx.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithDelegatedToken returns a context carrying a storage token.
func WithDelegatedToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, delegatedTokenKey, token)
}

// DelegatedToken returns the storage token in ctx, or "".
func DelegatedToken(ctx context.Context) string {
	tok, _ := ctx.Value(delegatedTokenKey).(string)
	return tok
}

// Resolver turns a bearer token into a request context carrying the
// principal, its session and the session's delegated token.
type Resolver struct {
	tokens   *TokenManager
	sessions *SessionStore
}

func NewResolver(tokens *TokenManager, sessions *SessionStore) *Resolver {
	return &Resolver{tokens: tokens, sessions: sessions}
}

// Sessions returns the session store backing the resolver.
func (r *Resolver) Sessions() *SessionStore {
	return r.sessions
}

// Resolve validates the token and binds its principal to the session.
func (r *Resolver) Resolve(ctx context.Context, bearer string) (context.Context, core.Principal, error) {
	claims, err := r.tokens.Validate(bearer)
	if err != nil {
		return ctx, core.Principal{}, err
	}
	p := claims.Principal()
	r.sessions.Bind(claims.SessionID, p)

	ctx = WithPrincipal(ctx, p)
	ctx = WithSessionID(ctx, claims.SessionID)
	if tok, ok := r.sessions.DelegatedToken(claims.SessionID); ok {
		ctx = WithDelegatedToken(ctx, tok)
	}
	return ctx, p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
