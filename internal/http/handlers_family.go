package http

import (
	"net/http"

	"moneymanager/internal/core"
)

type familyResponse struct {
	Family         *core.Family        `json:"family"`
	VisibleUserIDs []string            `json:"visibleUserIds"`
	Invites        []core.FamilyInvite `json:"invites,omitempty"`
}

// handleGetFamily returns the caller's family, or null, with the ids whose
// transactions the caller sees. Owners also get the family's pending invites.
func (s *Server) handleGetFamily(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	f := s.families.ResolveFamily(r.Context(), p)
	resp := familyResponse{Family: f, VisibleUserIDs: core.VisibilitySet(p, f)}
	if f != nil && f.IsOwner(p.ID) {
		invites, err := s.families.FamilyInvites(r.Context(), p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Invites = invites
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateFamily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.families.CreateFamily(r.Context(), principal(r), sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDeleteFamily(w http.ResponseWriter, r *http.Request) {
	if err := s.families.DeleteFamily(r.Context(), principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Write(w)
}

func (s *Server) handleLeaveFamily(w http.ResponseWriter, r *http.Request) {
	if err := s.families.LeaveFamily(r.Context(), principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Write(w)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	f, err := s.families.RemoveMember(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCreateInviteCode(w http.ResponseWriter, r *http.Request) {
	inv, err := s.families.CreateInviteCode(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleJoinWithCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.families.JoinWithCode(r.Context(), principal(r), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.families.InviteMember(r.Context(), principal(r), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handlePendingInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.families.PendingInvites(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invites == nil {
		invites = []core.FamilyInvite{}
	}
	writeJSON(w, http.StatusOK, invites)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	f, err := s.families.AcceptInvite(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.families.DeclineInvite(r.Context(), principal(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Write(w)
}
