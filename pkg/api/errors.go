package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// writeTokenError maps a user-token validation failure to its wire code
func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenNotFound):
		httputil.WriteErrorDetail(w, http.StatusUnauthorized, "invalid_token",
			"token is unknown or revoked; log in to obtain a new one")
	case errors.Is(err, auth.ErrTokenExpired):
		httputil.WriteErrorDetail(w, http.StatusUnauthorized, "expired_token",
			"token has expired; log in to obtain a new one")
	default:
		httputil.WriteInternalError(w, "token_validation_failed")
	}
}

// writeServiceContextError maps a service-token or service-row failure
func writeServiceContextError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidServiceToken), errors.Is(err, auth.ErrServiceNotFound):
		httputil.WriteUnauthorized(w, "invalid_service_token")
	case errors.Is(err, auth.ErrServiceInactive):
		httputil.WriteForbidden(w, "service_inactive")
	default:
		httputil.WriteInternalError(w, "check_permission_failed")
	}
}

// writeResolveError maps a flexible-id resolution failure; failCode is
// the 500 code of the calling operation.
func writeResolveError(w http.ResponseWriter, err error, failCode string) {
	switch {
	case errors.Is(err, rbac.ErrInvalidServiceID):
		httputil.WriteBadRequest(w, "invalid_service_id")
	case errors.Is(err, rbac.ErrInvalidPersonID):
		httputil.WriteBadRequest(w, "invalid_person_id")
	case errors.Is(err, rbac.ErrInvalidPermissionID):
		httputil.WriteBadRequest(w, "invalid_permission_id")
	case errors.Is(err, rbac.ErrPersonNotFound):
		httputil.WriteBadRequest(w, "person_not_found")
	case errors.Is(err, rbac.ErrPermissionNotFound):
		httputil.WriteBadRequest(w, "permission_not_found")
	default:
		httputil.WriteInternalError(w, failCode)
	}
}
