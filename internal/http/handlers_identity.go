package http

import (
	"net/http"
	"strings"
	"time"

	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/log"
	"moneymanager/internal/services"
)

// handleMe returns the caller with their family, pending invites and
// catalog lists.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	o, err := services.LoadOverview(r.Context(), principal(r), s.families, s.catalog)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type driveTokenRequest struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
	ExpiresIn   int       `json:"expiresIn,omitempty"`
}

// handleSetDriveToken stores the caller's delegated storage token on the
// session. It is never persisted.
func (s *Server) handleSetDriveToken(w http.ResponseWriter, r *http.Request) {
	var req driveTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		writeError(w, r, &core.ValidationError{Field: "accessToken", Reason: "required"})
		return
	}
	expiry := req.ExpiresAt
	if expiry.IsZero() && req.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	p := principal(r)
	sessionID := identity.SessionID(r.Context())
	if err := s.resolver.Sessions().SetDelegatedToken(sessionID, p.ID, token, expiry); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Delegated token stored",
		"session_id", sessionID,
		"expires_at", expiry)
	NewJSONResponse().Write(w)
}

func (s *Server) handleClearDriveToken(w http.ResponseWriter, r *http.Request) {
	s.resolver.Sessions().ClearDelegatedToken(identity.SessionID(r.Context()))
	NewJSONResponse().Write(w)
}

// handleSignOut drops the session. Open streams of the session close.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionID(r.Context())
	s.resolver.Sessions().SignOut(sessionID)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Signed out", "session_id", sessionID)
	NewJSONResponse().Write(w)
}
