package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

const (
	userTokenHeader    = "user-token"
	serviceTokenHeader = "service-token"
)

// logAccess emits the per-request audit line
func (s *Server) logAccess(r *http.Request, token string, valid bool, usedCache *bool) {
	s.access.Log(auth.AccessEntry{
		Token:     token,
		Endpoint:  r.URL.Path,
		Timestamp: s.tokens.Clock().Now(),
		ClientIP:  auth.ClientIP(r),
		Valid:     valid,
		UsedCache: usedCache,
	})
}

// authenticate extracts and validates the user token. On failure it has
// already written the response (and the audit line for known tokens).
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, renew bool) (*auth.TokenValidation, string, bool) {
	token := httputil.HeaderValue(r, userTokenHeader)
	if token == "" {
		httputil.WriteErrorDetail(w, http.StatusUnauthorized, "missing_token_header",
			"user-token header absent or empty; send user-token: <value> on every request")
		return nil, "", false
	}

	validation, err := s.tokens.ValidateUserToken(r.Context(), token, renew)
	if err != nil {
		s.logAccess(r, token, false, nil)
		writeTokenError(w, err)
		return nil, "", false
	}
	return validation, token, true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.Username == "" || payload.Password == "" {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	creds, err := s.store.GetCredentials(r.Context(), payload.Username)
	if err != nil {
		if err == rbac.ErrUserNotFound {
			httputil.WriteErrorDetail(w, http.StatusUnauthorized, "invalid_credentials",
				"unknown username or wrong password")
			return
		}
		httputil.WriteInternalError(w, "login_lookup_failed")
		return
	}

	if !auth.VerifyPassword(creds.PasswordDigest, payload.Password) {
		httputil.WriteErrorDetail(w, http.StatusUnauthorized, "invalid_credentials",
			"unknown username or wrong password")
		return
	}

	userPayload := auth.TokenPayload{
		UserID:   creds.ID,
		Username: creds.Username,
		Name:     creds.Name,
	}

	// Reuse a live token when one exists so repeated logins do not grow
	// the token table.
	var issue *auth.TokenIssue
	if existing, err := s.tokens.FindActiveUserToken(r.Context(), creds.ID); err == nil && existing != nil {
		issue = &auth.TokenIssue{Token: existing.Token, ExpiresAt: existing.ExpiresAt}
		userPayload = existing.Payload
	} else {
		issued, err := s.tokens.IssueUserToken(r.Context(), userPayload)
		if err != nil {
			httputil.WriteInternalError(w, "login_issue_failed")
			return
		}
		issue = issued
	}

	s.logAccess(r, issue.Token, true, nil)
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_token": issue.Token,
		"expires_at": issue.ExpiresAt,
		"payload":    userPayload,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, false)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	if _, err := s.tokens.RevokeToken(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, "logout_failed")
		return
	}
	httputil.WriteStatus(w, "logged_out")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	validation, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	httputil.WriteSuccess(w, map[string]interface{}{
		"payload":    validation.Record.Payload,
		"renewed":    validation.Renewed,
		"expires_at": validation.ExpiresAt,
	})
}

func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	validation, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	httputil.WriteSuccess(w, map[string]interface{}{
		"valid":      true,
		"payload":    validation.Record.Payload,
		"renewed":    validation.Renewed,
		"expires_at": validation.ExpiresAt,
	})
}

type checkPermissionRequest struct {
	ServiceID      rbac.FlexibleID `json:"service_id"`
	PermissionName string          `json:"permission_name"`
}

// handleCheckPermission is the service-scoped check: the user token
// carries the identity, and the service context comes from exactly one
// of the service-token header or a service_id in the body.
func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	validation, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}

	var payload checkPermissionRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logAccess(r, token, false, nil)
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.logAccess(r, token, false, nil)
			httputil.WriteBadRequest(w, "invalid_request_body")
			return
		}
	}

	serviceToken := httputil.HeaderValue(r, serviceTokenHeader)
	headerPresent := serviceToken != ""
	bodyPresent := !payload.ServiceID.IsZero()
	if headerPresent == bodyPresent {
		// exactly one of the two, never both, never neither
		s.logAccess(r, token, false, nil)
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	var serviceID int64
	if headerPresent {
		serviceID, err = s.authorizer.ServiceFromToken(r.Context(), serviceToken)
		if err != nil {
			s.logAccess(r, token, false, nil)
			writeServiceContextError(w, err)
			return
		}
	} else {
		serviceID, err = s.store.ResolveServiceID(r.Context(), payload.ServiceID, false)
		if err != nil {
			s.logAccess(r, token, false, nil)
			writeResolveError(w, err, "check_permission_failed")
			return
		}
	}

	decision, err := s.authorizer.CheckAccess(r.Context(), token, validation, serviceID, payload.PermissionName)
	if err != nil {
		if err == auth.ErrInvalidTokenPayload {
			s.logAccess(r, token, false, nil)
			httputil.WriteUnauthorized(w, "invalid_token")
			return
		}
		s.logAccess(r, token, false, nil)
		httputil.WriteInternalError(w, "check_permission_failed")
		return
	}

	s.logAccess(r, token, true, &decision.UsedCache)

	if decision.HasPermission != nil {
		httputil.WriteSuccess(w, map[string]interface{}{"has_permission": *decision.HasPermission})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"valid":      true,
		"access":     decision.Access,
		"renewed":    decision.Validation.Renewed,
		"expires_at": decision.Validation.ExpiresAt,
	})
}

func (s *Server) handleIssueServiceToken(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_service_id")
		return
	}

	service, err := s.store.GetService(r.Context(), id)
	if err != nil {
		if err == rbac.ErrServiceNotFound {
			httputil.WriteNotFound(w, "service_not_found")
			return
		}
		httputil.WriteInternalError(w, "load_service_failed")
		return
	}
	if !service.Status {
		httputil.WriteForbidden(w, "service_inactive")
		return
	}

	issue, err := s.tokens.IssueServiceToken(r.Context(), service.ID, service.Name)
	if err != nil {
		httputil.WriteInternalError(w, "issue_service_token_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"service_id":    service.ID,
		"service_name":  service.Name,
		"service_token": issue.Token,
		"expires_at":    issue.ExpiresAt,
	})
}
