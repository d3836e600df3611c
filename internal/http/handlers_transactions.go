package http

import (
	"net/http"

	"moneymanager/internal/core"
)

// handleListTransactions returns the caller's redacted view, optionally
// narrowed by period and type.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := ParsePeriod(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := ParseType(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views, err := s.ledger.List(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := s.now()
	out := make([]core.TransactionView, 0, len(views))
	for _, v := range views {
		if !period.Contains(v.Date, now) || (typ != "" && v.Type != typ) {
			continue
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateTransaction accepts JSON, or multipart with an attachment.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionInput
	file, closer, err := decodeWithAttachment(w, r, &in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	p := principal(r)
	t, err := s.ledger.Add(r.Context(), p, in.Transaction(), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t.ViewFor(p.ID))
}

// handleUpdateTransaction applies a partial update. A file part replaces
// the attachment.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var patch core.TransactionPatch
	file, closer, err := decodeWithAttachment(w, r, &patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}
	sanitizePatch(&patch)

	p := principal(r)
	t, err := s.ledger.Update(r.Context(), p, r.PathValue("id"), patch, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t.ViewFor(p.ID))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Delete(r.Context(), principal(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Write(w)
}

// handleStats aggregates the caller's view over a period.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := ParsePeriod(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := ParseType(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.ledger.Stats(r.Context(), principal(r), period, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func sanitizePatch(p *core.TransactionPatch) {
	for _, f := range []*string{p.Category, p.Account, p.ToAccount, p.Note} {
		if f != nil {
			*f = sanitizeInput(*f)
		}
	}
}
