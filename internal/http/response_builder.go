// Package http serves the JSON API, its event streams and the operational
// endpoints.
//
// This file builds JSON responses and maps domain errors to status codes.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/log"
	"moneymanager/internal/store"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body with a 2xx status becomes
// 204 No Content.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		if b.statusCode == http.StatusOK {
			b.statusCode = http.StatusNoContent
		}
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{core.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
	{identity.ErrMissingToken, http.StatusUnauthorized, "not_authenticated"},
	{identity.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{core.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{core.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{core.ErrInviteNotFound, http.StatusNotFound, "invite_not_found"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{core.ErrAlreadyInFamily, http.StatusConflict, "already_in_family"},
	{core.ErrAlreadyInvited, http.StatusConflict, "already_invited"},
	{core.ErrAlreadyMember, http.StatusConflict, "already_member"},
	{core.ErrAlreadyInList, http.StatusConflict, "already_in_list"},
	{core.ErrOwnerCannotLeave, http.StatusConflict, "owner_cannot_leave"},
	{store.ErrConflict, http.StatusConflict, "conflict"},
	{core.ErrInvalidOrExpiredCode, http.StatusGone, "invalid_or_expired_code"},
	{core.ErrSelfInvite, http.StatusUnprocessableEntity, "self_invite"},
	{core.ErrValidation, http.StatusUnprocessableEntity, "validation"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{core.ErrUploadFailed, http.StatusBadGateway, "upload_failed"},
}

// StatusFor returns the status code and error code for err.
func StatusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// ErrorResponse maps err to a JSON error response. Internal errors are
// logged and their text is not sent to the client.
func ErrorResponse(r *http.Request, err error) *JSONResponseBuilder {
	status, code := StatusFor(err)
	body := ErrorBody{Error: err.Error(), Code: code}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		body.Error = "internal error"
	}
	if status == http.StatusUnauthorized {
		return NewJSONResponse().Status(status).Header("WWW-Authenticate", "Bearer").Body(body)
	}
	return NewJSONResponse().Status(status).Body(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(r, err).Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}
