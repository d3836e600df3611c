package identity

import (
	"sync"
	"time"

	"moneymanager/internal/cache"
	"moneymanager/internal/core"
	"moneymanager/internal/log"
)

// sessionState is what the server remembers about a session. The delegated
// token lives here only; it is never written to the store.
type sessionState struct {
	principal   core.Principal
	token       string
	tokenExpiry time.Time
}

// ChangeFunc receives the new principal of a session, or nil once the
// session is signed out or expired.
type ChangeFunc func(p *core.Principal)

// SessionStore keeps ephemeral per-session state with a TTL.
type SessionStore struct {
	sessions *cache.LRUCache[sessionState]
	now      func() time.Time
	logger   *log.Logger

	mu        sync.Mutex
	listeners map[string]map[int]ChangeFunc
	nextID    int
}

// NewSessionStore creates a store holding at most maxEntries sessions for
// ttl each.
func NewSessionStore(maxEntries int, ttl time.Duration, logger *log.Logger) *SessionStore {
	return newSessionStore(maxEntries, ttl, logger, time.Now)
}

func newSessionStore(maxEntries int, ttl time.Duration, logger *log.Logger, now func() time.Time) *SessionStore {
	s := &SessionStore{
		now:       now,
		logger:    logger.WithComponent(log.ComponentIdentity),
		listeners: make(map[string]map[int]ChangeFunc),
	}
	s.sessions = cache.NewLRUCache[sessionState](maxEntries, ttl,
		cache.WithClock[sessionState](now),
		cache.WithEvictHook(func(sessionID string, _ sessionState) {
			s.logger.Debug("Session expired", "session_id", sessionID)
			s.notify(sessionID, nil)
		}),
	)
	return s
}

// Cache exposes the backing cache so it can be registered for cleanup.
func (s *SessionStore) Cache() cache.Cleaner {
	return s.sessions
}

// Bind records p as the principal of sessionID and refreshes its TTL. A
// different principal on a known session drops the delegated token.
func (s *SessionStore) Bind(sessionID string, p core.Principal) {
	prev, ok := s.sessions.Get(sessionID)
	switch {
	case !ok:
		s.sessions.Set(sessionID, sessionState{principal: p})
		s.notify(sessionID, &p)
	case prev.principal.ID != p.ID:
		s.logger.Info("Session principal changed, delegated token cleared",
			"session_id", sessionID, log.FieldPrincipalID, p.ID)
		s.sessions.Set(sessionID, sessionState{principal: p})
		s.notify(sessionID, &p)
	default:
		prev.principal = p
		s.sessions.Set(sessionID, prev)
	}
}

// Principal returns the principal bound to sessionID.
func (s *SessionStore) Principal(sessionID string) (core.Principal, bool) {
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return core.Principal{}, false
	}
	return st.principal, true
}

// SetDelegatedToken stores a storage token for the session. The principal
// must match the one bound to the session.
func (s *SessionStore) SetDelegatedToken(sessionID, principalID, token string, expiry time.Time) error {
	matched := false
	s.sessions.Update(sessionID, func(st sessionState) sessionState {
		if st.principal.ID != principalID {
			return st
		}
		matched = true
		st.token = token
		st.tokenExpiry = expiry
		return st
	})
	if !matched {
		return core.ErrNotAuthenticated
	}
	return nil
}

// DelegatedToken returns the session's storage token if it is still valid.
// An expired token is cleared.
func (s *SessionStore) DelegatedToken(sessionID string) (string, bool) {
	st, ok := s.sessions.Get(sessionID)
	if !ok || st.token == "" {
		return "", false
	}
	if !st.tokenExpiry.IsZero() && !s.now().Before(st.tokenExpiry) {
		s.ClearDelegatedToken(sessionID)
		return "", false
	}
	return st.token, true
}

// ClearDelegatedToken forgets the storage token but keeps the session.
func (s *SessionStore) ClearDelegatedToken(sessionID string) {
	s.sessions.Update(sessionID, func(st sessionState) sessionState {
		st.token = ""
		st.tokenExpiry = time.Time{}
		return st
	})
}

// SignOut drops the session and everything it held.
func (s *SessionStore) SignOut(sessionID string) {
	s.sessions.Delete(sessionID)
	s.notify(sessionID, nil)
}

// OnChange registers fn for principal changes on sessionID. The returned
// function unregisters it.
func (s *SessionStore) OnChange(sessionID string, fn ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.listeners[sessionID] == nil {
		s.listeners[sessionID] = make(map[int]ChangeFunc)
	}
	s.listeners[sessionID][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[sessionID], id)
		if len(s.listeners[sessionID]) == 0 {
			delete(s.listeners, sessionID)
		}
	}
}

func (s *SessionStore) notify(sessionID string, p *core.Principal) {
	s.mu.Lock()
	fns := make([]ChangeFunc, 0, len(s.listeners[sessionID]))
	for _, fn := range s.listeners[sessionID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
