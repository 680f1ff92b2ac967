package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type rolePermissionRequest struct {
	RoleID       int64 `json:"role_id"`
	PermissionID int64 `json:"permission_id"`
}

func (s *Server) handleAssignPermissionToRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload rolePermissionRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.RoleID == 0 || payload.PermissionID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	if err := s.store.AssignPermissionToRole(r.Context(), payload.RoleID, payload.PermissionID); err != nil {
		httputil.WriteInternalError(w, "assign_permission_failed")
		return
	}
	if _, err := s.tokens.InvalidateForRole(r.Context(), payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "assign_permission_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleRemovePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload rolePermissionRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.RoleID == 0 || payload.PermissionID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	if err := s.store.RemovePermissionFromRole(r.Context(), payload.RoleID, payload.PermissionID); err != nil {
		httputil.WriteInternalError(w, "remove_permission_failed")
		return
	}
	if _, err := s.tokens.InvalidateForRole(r.Context(), payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "remove_permission_failed")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":        "permission_removed_from_role",
		"role_id":       payload.RoleID,
		"permission_id": payload.PermissionID,
	})
}

type serviceRoleRequest struct {
	ServiceID rbac.FlexibleID `json:"service_id"`
	RoleID    int64           `json:"role_id"`
}

func (s *Server) handleAssignRoleToService(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload serviceRoleRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.ServiceID.IsZero() || payload.RoleID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	// Admin create path: an unknown service name is created on the fly
	serviceID, err := s.store.ResolveServiceID(r.Context(), payload.ServiceID, true)
	if err != nil {
		writeResolveError(w, err, "assign_role_service_failed")
		return
	}

	if err := s.store.AssignRoleToService(r.Context(), serviceID, payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "assign_role_service_failed")
		return
	}
	if _, err := s.tokens.InvalidateForService(r.Context(), serviceID); err != nil {
		httputil.WriteInternalError(w, "assign_role_service_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleRemoveRoleFromService(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload serviceRoleRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.ServiceID.IsZero() || payload.RoleID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	serviceID, err := s.store.ResolveServiceID(r.Context(), payload.ServiceID, false)
	if err != nil {
		writeResolveError(w, err, "remove_role_service_failed")
		return
	}

	if err := s.store.RemoveRoleFromService(r.Context(), serviceID, payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "remove_role_service_failed")
		return
	}
	if _, err := s.tokens.InvalidateForService(r.Context(), serviceID); err != nil {
		httputil.WriteInternalError(w, "remove_role_service_failed")
		return
	}
	httputil.WriteStatus(w, "role_removed_from_service")
}

type personServiceRoleRequest struct {
	PersonID  rbac.FlexibleID `json:"person_id"`
	ServiceID rbac.FlexibleID `json:"service_id"`
	RoleID    int64           `json:"role_id"`
}

func (s *Server) resolvePersonAndService(w http.ResponseWriter, r *http.Request, personID, serviceID rbac.FlexibleID, failCode string) (int64, int64, bool) {
	person, err := s.store.ResolvePersonID(r.Context(), personID)
	if err != nil {
		writeResolveError(w, err, failCode)
		return 0, 0, false
	}
	service, err := s.store.ResolveServiceID(r.Context(), serviceID, false)
	if err != nil {
		writeResolveError(w, err, failCode)
		return 0, 0, false
	}
	return person, service, true
}

func (s *Server) handleAssignRoleToPerson(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload personServiceRoleRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.PersonID.IsZero() || payload.ServiceID.IsZero() || payload.RoleID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	personID, serviceID, ok := s.resolvePersonAndService(w, r, payload.PersonID, payload.ServiceID, "assign_role_person_failed")
	if !ok {
		return
	}

	if err := s.store.AssignRoleToPersonInService(r.Context(), personID, serviceID, payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "assign_role_person_failed")
		return
	}
	if _, err := s.tokens.InvalidateForUserInService(r.Context(), personID, serviceID); err != nil {
		httputil.WriteInternalError(w, "assign_role_person_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleRemoveRoleFromPerson(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload personServiceRoleRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.PersonID.IsZero() || payload.ServiceID.IsZero() || payload.RoleID == 0 {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	personID, serviceID, ok := s.resolvePersonAndService(w, r, payload.PersonID, payload.ServiceID, "remove_role_person_failed")
	if !ok {
		return
	}

	if err := s.store.RemoveRoleFromPersonInService(r.Context(), personID, serviceID, payload.RoleID); err != nil {
		httputil.WriteInternalError(w, "remove_role_person_failed")
		return
	}
	if _, err := s.tokens.InvalidateForUserInService(r.Context(), personID, serviceID); err != nil {
		httputil.WriteInternalError(w, "remove_role_person_failed")
		return
	}
	httputil.WriteStatus(w, "role_removed_from_person")
}

type grantPermissionRequest struct {
	PersonID       rbac.FlexibleID `json:"person_id"`
	ServiceID      rbac.FlexibleID `json:"service_id"`
	PermissionID   rbac.FlexibleID `json:"permission_id"`
	PermissionName string          `json:"permission_name"`
}

// handleGrantPermissionToPerson is the direct-grant protocol: one
// permission for one person in one service, through a synthetic role.
func (s *Server) handleGrantPermissionToPerson(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload grantPermissionRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || payload.PersonID.IsZero() || payload.ServiceID.IsZero() {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	permissionRef := payload.PermissionID
	if permissionRef.IsZero() {
		if payload.PermissionName == "" {
			httputil.WriteBadRequest(w, "invalid_request_body")
			return
		}
		permissionRef = rbac.FlexibleIDFromString(payload.PermissionName)
	}

	personID, serviceID, ok := s.resolvePersonAndService(w, r, payload.PersonID, payload.ServiceID, "grant_permission_failed")
	if !ok {
		return
	}
	permissionID, err := s.store.ResolvePermissionID(r.Context(), permissionRef)
	if err != nil {
		writeResolveError(w, err, "grant_permission_failed")
		return
	}

	roleID, err := s.store.GrantPermissionToPersonInService(r.Context(), personID, serviceID, permissionID)
	if err != nil {
		httputil.WriteInternalError(w, "grant_permission_failed")
		return
	}
	if _, err := s.tokens.InvalidateForUserInService(r.Context(), personID, serviceID); err != nil {
		httputil.WriteInternalError(w, "grant_permission_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"status":        "permission_granted",
		"person_id":     personID,
		"service_id":    serviceID,
		"permission_id": permissionID,
		"role_id":       roleID,
	})
}

func (s *Server) handleListServicesOfPerson(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	raw, err := httputil.ParsePathString(r, "person_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_person_id")
		return
	}
	personID, err := s.store.ResolvePersonID(r.Context(), rbac.FlexibleIDFromString(raw))
	if err != nil {
		writeResolveError(w, err, "list_person_services_failed")
		return
	}

	services, err := s.store.ListServicesOfPerson(r.Context(), personID)
	if err != nil {
		httputil.WriteInternalError(w, "list_person_services_failed")
		return
	}
	httputil.WriteSuccess(w, services)
}

func (s *Server) handleListPersonRolesInService(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	personRaw, err := httputil.ParsePathString(r, "person_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_person_id")
		return
	}
	serviceRaw, err := httputil.ParsePathString(r, "service_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_service_id")
		return
	}

	personID, serviceID, ok := s.resolvePersonAndService(w, r,
		rbac.FlexibleIDFromString(personRaw), rbac.FlexibleIDFromString(serviceRaw), "list_person_roles_failed")
	if !ok {
		return
	}

	roles, err := s.store.ListPersonRolesInService(r.Context(), personID, serviceID)
	if err != nil {
		httputil.WriteInternalError(w, "list_person_roles_failed")
		return
	}
	httputil.WriteSuccess(w, roles)
}

// handleProbePermission answers the admin-side question "does P hold Q
// in S right now", straight from the catalog, bypassing the cache.
func (s *Server) handleProbePermission(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	personRaw, err := httputil.ParsePathString(r, "person_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_person_id")
		return
	}
	serviceRaw, err := httputil.ParsePathString(r, "service_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_service_id")
		return
	}
	permissionName, err := httputil.ParsePathString(r, "permission_name")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_permission_id")
		return
	}

	personID, serviceID, ok := s.resolvePersonAndService(w, r,
		rbac.FlexibleIDFromString(personRaw), rbac.FlexibleIDFromString(serviceRaw), "check_permission_failed")
	if !ok {
		return
	}

	has, err := s.store.CheckPersonPermissionInService(r.Context(), personID, serviceID, permissionName)
	if err != nil {
		httputil.WriteInternalError(w, "check_permission_failed")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"has_permission": has})
}
