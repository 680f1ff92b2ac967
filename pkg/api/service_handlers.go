package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type createServiceRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	var payload createServiceRequest
	if err := httputil.ParseJSON(r, &payload); err != nil || strings.TrimSpace(payload.Name) == "" {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	service, err := s.store.CreateService(r.Context(), payload.Name, payload.Description)
	if err != nil {
		httputil.WriteInternalError(w, "create_service_failed")
		return
	}
	httputil.WriteCreated(w, service)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	services, err := s.store.ListServices(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "list_services_failed")
		return
	}
	httputil.WriteSuccess(w, services)
}

type updateServiceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *bool   `json:"status"`
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
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

	var payload updateServiceRequest
	if err := httputil.ParseJSON(r, &payload); err != nil {
		httputil.WriteBadRequest(w, "invalid_request_body")
		return
	}

	if err := s.store.UpdateService(r.Context(), id, payload.Name, payload.Description, payload.Status); err != nil {
		httputil.WriteInternalError(w, "update_service_failed")
		return
	}

	// A rename or disable changes what cached views would materialize
	if _, err := s.tokens.InvalidateForService(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "update_service_failed")
		return
	}
	httputil.WriteStatus(w, "success")
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
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

	if _, err := s.tokens.InvalidateForService(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_service_failed")
		return
	}
	if err := s.store.DeleteService(r.Context(), id); err != nil {
		httputil.WriteInternalError(w, "delete_service_failed")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"status":     "service_deleted",
		"service_id": id,
	})
}

func (s *Server) handleListServiceRoles(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	raw, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_service_id")
		return
	}
	serviceID, err := s.store.ResolveServiceID(r.Context(), rbac.FlexibleIDFromString(raw), false)
	if err != nil {
		writeResolveError(w, err, "list_service_roles_failed")
		return
	}

	roles, err := s.store.ListServiceRoles(r.Context(), serviceID)
	if err != nil {
		httputil.WriteInternalError(w, "list_service_roles_failed")
		return
	}
	httputil.WriteSuccess(w, roles)
}

func (s *Server) handleListPersonsWithRole(w http.ResponseWriter, r *http.Request) {
	_, token, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.logAccess(r, token, true, nil)

	raw, err := httputil.ParsePathString(r, "service_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_service_id")
		return
	}
	serviceID, err := s.store.ResolveServiceID(r.Context(), rbac.FlexibleIDFromString(raw), false)
	if err != nil {
		writeResolveError(w, err, "list_persons_with_role_failed")
		return
	}
	roleID, err := httputil.ParsePathInt64(r, "role_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_role_id")
		return
	}

	people, err := s.store.ListPersonsWithRoleInService(r.Context(), serviceID, roleID)
	if err != nil {
		httputil.WriteInternalError(w, "list_persons_with_role_failed")
		return
	}
	httputil.WriteSuccess(w, people)
}
