package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type createUserRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	PersonType     string `json:"person_type"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload createUserRequest
	if err := httputil.ParseJSON(r, &payload); err != nil {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	blank := func(v string) bool { return strings.TrimSpace(v) == "" }
	if blank(payload.Username) || blank(payload.Password) || blank(payload.Name) ||
		blank(payload.PersonType) || blank(payload.DocumentType) || blank(payload.DocumentNumber) {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	personType := rbac.PersonType(strings.TrimSpace(payload.PersonType))
	documentType := rbac.DocumentType(strings.TrimSpace(payload.DocumentType))
	if !personType.Valid() || !documentType.Valid() {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	digest, err := auth.HashPassword(payload.Password)
	if err != nil {
		httputil.WriteInternalError(w, "create_user_failed")
		return
	}

	person, err := s.store.CreatePerson(r.Context(), rbac.NewPerson{
		Username:       payload.Username,
		PasswordDigest: digest,
		Name:           payload.Name,
		PersonType:     personType,
		DocumentType:   documentType,
		DocumentNumber: payload.DocumentNumber,
	})
	if err != nil {
		httputil.WriteInternalError(w, "create_user_failed")
		return
	}
	httputil.WriteCreated(w, person)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	people, err := s.store.ListPeople(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "list_users_failed")
		return
	}
	httputil.WriteSuccess(w, people)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_user_id")
		return
	}

	person, err := s.store.GetPerson(r.Context(), id)
	if err != nil {
		if err == rbac.ErrUserNotFound {
			httputil.WriteNotFound(w, "user_not_found")
			return
		}
		httputil.WriteInternalError(w, "get_user_failed")
		return
	}
	httputil.WriteSuccess(w, person)
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Name     *string `json:"name"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_user_id")
		return
	}

	var payload updateUserRequest
	if err := httputil.ParseJSON(r, &payload); err != nil {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	var digest *string
	if payload.Password != nil {
		hashed, err := auth.HashPassword(*payload.Password)
		if err != nil {
			httputil.WriteInternalError(w, "update_user_failed")
			return
		}
		digest = &hashed
	}

	if err := s.store.UpdatePerson(r.Context(), id, payload.Username, digest, payload.Name); err != nil {
		httputil.WriteInternalError(w, "update_user_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_user_id")
		return
	}

	if err := s.store.DeletePerson(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_user_failed")
		return
	}

	// The person row is now a tombstone: their cache rows and tokens go
	// with it. Cache first so the token subquery still sees the tokens.
	if _, err := s.tokens.InvalidateForUser(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "user_token_cleanup_failed")
		return
	}
	revoked, err := s.tokens.RevokeUserTokens(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, "user_token_cleanup_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"status":         "user_deleted",
		"user_id":        id,
		"revoked_tokens": revoked,
	})
}
