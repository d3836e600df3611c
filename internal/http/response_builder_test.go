package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"moneymanager/internal/core"
	"moneymanager/internal/identity"
	"moneymanager/internal/store"
)

func TestJSONResponseBuilder(t *testing.T) {
	t.Run("body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewJSONResponse().Status(http.StatusCreated).Header("X-Test", "1").Body(map[string]int{"n": 1}).Write(rr)

		if rr.Code != http.StatusCreated {
			t.Errorf("status = %d", rr.Code)
		}
		if got := rr.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
			t.Errorf("content type = %q", got)
		}
		if rr.Header().Get("X-Test") != "1" {
			t.Error("custom header missing")
		}
		var body map[string]int
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["n"] != 1 {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("no body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewJSONResponse().Write(rr)
		if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
			t.Errorf("got %d %q, want empty 204", rr.Code, rr.Body.String())
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
		{identity.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{core.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{core.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
		{core.ErrAlreadyInList, http.StatusConflict, "already_in_list"},
		{core.ErrOwnerCannotLeave, http.StatusConflict, "owner_cannot_leave"},
		{core.ErrInvalidOrExpiredCode, http.StatusGone, "invalid_or_expired_code"},
		{core.ErrSelfInvite, http.StatusUnprocessableEntity, "self_invite"},
		{&core.ValidationError{Field: "amount", Reason: "required"}, http.StatusUnprocessableEntity, "validation"},
		{badRequest("nope"), http.StatusBadRequest, "bad_request"},
		{core.ErrUploadFailed, http.StatusBadGateway, "upload_failed"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("StatusFor(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)

	t.Run("validation field", func(t *testing.T) {
		rr := httptest.NewRecorder()
		ErrorResponse(r, &core.ValidationError{Field: "toAccount", Reason: "required for transfers"}).Write(rr)
		var body ErrorBody
		json.Unmarshal(rr.Body.Bytes(), &body)
		if rr.Code != http.StatusUnprocessableEntity || body.Field != "toAccount" || body.Code != "validation" {
			t.Errorf("got %d %+v", rr.Code, body)
		}
	})

	t.Run("internal error text hidden", func(t *testing.T) {
		rr := httptest.NewRecorder()
		ErrorResponse(r, errors.New("sql: connection refused")).Write(rr)
		var body ErrorBody
		json.Unmarshal(rr.Body.Bytes(), &body)
		if rr.Code != http.StatusInternalServerError || body.Error != "internal error" {
			t.Errorf("got %d %+v", rr.Code, body)
		}
	})

	t.Run("unauthorized challenge", func(t *testing.T) {
		rr := httptest.NewRecorder()
		ErrorResponse(r, identity.ErrMissingToken).Write(rr)
		if rr.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Errorf("headers = %v", rr.Header())
		}
	})
}
