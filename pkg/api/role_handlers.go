package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type nameRequest struct {
	Name string `json:"name"`
}

type renameRequest struct {
	Name *string `json:"name"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload nameRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || strings.TrimSpace(payload.Name) == "" {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	role, err := s.store.CreateRole(r.Context(), payload.Name)
	if err != nil {
		httputil.WriteInternalError(w, "create_role_failed")
		return
	}
	httputil.WriteCreated(w, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_role_id")
		return
	}

	role, err := s.store.GetRole(r.Context(), id)
	if err != nil {
		if err == rbac.ErrRoleNotFound {
			httputil.WriteNotFound(w, "role_not_found")
			return
		}
		httputil.WriteInternalError(w, "get_role_failed")
		return
	}
	httputil.WriteSuccess(w, role)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	roles, err := s.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "list_roles_failed")
		return
	}
	httputil.WriteSuccess(w, roles)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_role_id")
		return
	}

	var payload renameRequest
	if err := httputil.ParseJSON(r, &payload); err != nil {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	if err := s.store.UpdateRole(r.Context(), id, payload.Name); err != nil {
		httputil.WriteInternalError(w, "update_role_failed")
		return
	}

	// Role names appear in materialized views
	if _, err := s.tokens.InvalidateForRole(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "update_role_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_role_id")
		return
	}

	// Invalidate before the delete: the service_roles rows the
	// invalidator walks disappear with the role.
	if _, err := s.tokens.InvalidateForRole(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_role_failed")
		return
	}
	if err := s.store.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_role_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"status":  "role_deleted",
		"role_id": id,
	})
}

func (s *Server) handleListRolePermissions(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_role_id")
		return
	}

	permissions, err := s.store.ListRolePermissions(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, "list_role_permissions_failed")
		return
	}
	httputil.WriteSuccess(w, permissions)
}

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload nameRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || strings.TrimSpace(payload.Name) == "" {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	permission, err := s.store.CreatePermission(r.Context(), payload.Name)
	if err != nil {
		httputil.WriteInternalError(w, "create_permission_failed")
		return
	}
	httputil.WriteCreated(w, permission)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	permissions, err := s.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "list_permissions_failed")
		return
	}
	httputil.WriteSuccess(w, permissions)
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_permission_id")
		return
	}

	var payload renameRequest
	if err := httputil.ParseJSON(r, &payload); err != nil {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	if err := s.store.UpdatePermission(r.Context(), id, payload.Name); err != nil {
		httputil.WriteInternalError(w, "update_permission_failed")
		return
	}

	// A permission may be reachable through any number of roles and
	// services; clear the whole cache rather than walk them all.
	if _, err := s.tokens.ClearAccessCache(r.Context()); err != nil {
		httputil.WriteInternalError(w, "update_permission_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_permission_id")
		return
	}

	if err := s.store.DeletePermission(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_permission_failed")
		return
	}
	if _, err := s.tokens.ClearAccessCache(r.Context()); err != nil {
		httputil.WriteInternalError(w, "delete_permission_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"status":        "permission_deleted",
		"permission_id": id,
	})
}
