// This file implements request decoding: JSON bodies, multipart transaction
// uploads and the period query used by listings and statistics.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moneymanager/internal/attachments"
	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

const (
	maxJSONBody      = 1 << 20
	maxAttachmentMem = 10 << 20
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("invalid JSON: %v", err)
	}
	if dec.More() {
		return badRequest("body must contain a single JSON object")
	}
	return nil
}

// transactionInput is what a client may set on a new transaction.
type transactionInput struct {
	Type      core.TransactionType `json:"type"`
	Amount    core.Money           `json:"amount"`
	Category  string               `json:"category"`
	Account   string               `json:"account"`
	ToAccount string               `json:"toAccount,omitempty"`
	Note      string               `json:"note,omitempty"`
	Date      core.Date            `json:"date"`
}

func (in transactionInput) Transaction() core.Transaction {
	return core.Transaction{
		Type:      in.Type,
		Amount:    in.Amount,
		Category:  sanitizeInput(in.Category),
		Account:   sanitizeInput(in.Account),
		ToAccount: sanitizeInput(in.ToAccount),
		Note:      sanitizeInput(in.Note),
		Date:      in.Date,
	}
}

// decodeWithAttachment decodes dst from either a JSON body or a multipart
// form whose "transaction" part holds the JSON and whose optional "file"
// part is the attachment. The returned file, if any, must be closed.
func decodeWithAttachment(w http.ResponseWriter, r *http.Request, dst any) (*attachments.File, io.Closer, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return nil, nil, decodeJSON(w, r, dst)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentMem+maxJSONBody)
	if err := r.ParseMultipartForm(maxAttachmentMem); err != nil {
		return nil, nil, badRequest("invalid multipart form: %v", err)
	}
	payload := r.FormValue("transaction")
	if payload == "" {
		return nil, nil, badRequest("missing transaction field")
	}
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrValidation) {
			return nil, nil, err
		}
		return nil, nil, badRequest("invalid transaction JSON: %v", err)
	}

	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, badRequest("invalid file: %v", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &attachments.File{
		Name:     sanitizeInput(header.Filename),
		MimeType: mimeType,
		Content:  f,
	}, f, nil
}

// ParsePeriod reads the period selection from a query string.
//
//	period=all|today|week|month|year   relative to now
//	month=2026-03                      one calendar month
//	year=2026                          one calendar year
//	from=2026-03-01&to=2026-03-15      inclusive custom range
//
// No parameters means all.
func ParsePeriod(q url.Values) (core.Period, error) {
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		t, err := time.Parse("2006-01", v)
		if err != nil {
			return core.Period{}, &core.ValidationError{Field: "month", Reason: "must be yyyy-MM"}
		}
		return core.MonthPeriod(t.Year(), int(t.Month())), nil
	}
	if v := strings.TrimSpace(q.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return core.Period{}, &core.ValidationError{Field: "year", Reason: "must be a four digit year"}
		}
		return core.YearPeriod(y), nil
	}

	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from != "" || to != "" {
		p := core.Period{Kind: core.PeriodCustom}
		var err error
		if from != "" {
			if p.Start, err = core.ParseDate(from); err != nil {
				return core.Period{}, err
			}
		}
		if to != "" {
			if p.End, err = core.ParseDate(to); err != nil {
				return core.Period{}, err
			}
		}
		return p, nil
	}

	kind := core.PeriodKind(strings.ToLower(strings.TrimSpace(q.Get("period"))))
	if kind == "" {
		kind = core.PeriodAll
	}
	if !kind.Valid() || kind == core.PeriodCustom {
		return core.Period{}, &core.ValidationError{Field: "period", Reason: "must be all, today, week, month or year"}
	}
	return core.Period{Kind: kind}, nil
}

// ParseType reads an optional transaction type filter.
func ParseType(q url.Values) (core.TransactionType, error) {
	v := core.TransactionType(strings.ToLower(strings.TrimSpace(q.Get("type"))))
	if v == "" || v.Valid() {
		return v, nil
	}
	return "", &core.ValidationError{Field: "type", Reason: "must be expense, income or transfer"}
}

// ParseKind maps a catalog path segment to its kind. Plural forms are
// accepted.
func ParseKind(s string) (core.CatalogKind, error) {
	switch strings.ToLower(s) {
	case "category", "categories":
		return core.KindCategory, nil
	case "account", "accounts":
		return core.KindAccount, nil
	}
	return "", fmt.Errorf("%w: unknown catalog %q", store.ErrNotFound, s)
}
