package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Server is the HTTP surface of the service
type Server struct {
	router     *mux.Router
	db         *sql.DB
	store      *rbac.Store
	tokens     *auth.Manager
	authorizer *auth.Authorizer
	access     *auth.AccessLogger
	logger     *observability.Logger
}

// NewServer wires the handlers around an open database pool and a token
// manager.
func NewServer(db *sql.DB, tokens *auth.Manager, logger *observability.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		db:         db,
		store:      rbac.NewStore(db),
		tokens:     tokens,
		authorizer: auth.NewAuthorizer(db, tokens, auth.NewResolver(db)),
		access:     auth.NewAccessLogger(logger),
		logger:     logger,
	}
	s.registerRoutes()
	return s
}

// Router exposes the underlying router for middleware wrapping
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)

	// Auth
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/profile", s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/check-token", s.handleCheckToken).Methods(http.MethodPost)
	r.HandleFunc("/check-permission", s.handleCheckPermission).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/services/{id}/token", s.handleIssueServiceToken).Methods(http.MethodPost)

	// Users
	r.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", s.handleUpdateUser).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)

	// Services
	r.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/services", s.handleCreateService).Methods(http.MethodPost)
	r.HandleFunc("/services/{id}", s.handleUpdateService).Methods(http.MethodPut)
	r.HandleFunc("/services/{id}", s.handleDeleteService).Methods(http.MethodDelete)
	r.HandleFunc("/services/{id}/roles", s.handleListServiceRoles).Methods(http.MethodGet)
	r.HandleFunc("/services/{service_id}/roles/{role_id}/people", s.handleListPersonsWithRole).Methods(http.MethodGet)

	// Roles
	r.HandleFunc("/roles", s.handleListRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", s.handleCreateRole).Methods(http.MethodPost)
	r.HandleFunc("/roles/{id}", s.handleGetRole).Methods(http.MethodGet)
	r.HandleFunc("/roles/{id}", s.handleUpdateRole).Methods(http.MethodPut)
	r.HandleFunc("/roles/{id}", s.handleDeleteRole).Methods(http.MethodDelete)
	r.HandleFunc("/roles/{id}/permissions", s.handleListRolePermissions).Methods(http.MethodGet)

	// Permissions
	r.HandleFunc("/permissions", s.handleListPermissions).Methods(http.MethodGet)
	r.HandleFunc("/permissions", s.handleCreatePermission).Methods(http.MethodPost)
	r.HandleFunc("/permissions/{id}", s.handleUpdatePermission).Methods(http.MethodPut)
	r.HandleFunc("/permissions/{id}", s.handleDeletePermission).Methods(http.MethodDelete)

	// Relations
	r.HandleFunc("/role-permissions", s.handleAssignPermissionToRole).Methods(http.MethodPost)
	r.HandleFunc("/role-permissions", s.handleRemovePermissionFromRole).Methods(http.MethodDelete)
	r.HandleFunc("/service-roles", s.handleAssignRoleToService).Methods(http.MethodPost)
	r.HandleFunc("/service-roles", s.handleRemoveRoleFromService).Methods(http.MethodDelete)
	r.HandleFunc("/person-service-roles", s.handleAssignRoleToPerson).Methods(http.MethodPost)
	r.HandleFunc("/person-service-roles", s.handleRemoveRoleFromPerson).Methods(http.MethodDelete)
	r.HandleFunc("/person-service-permissions", s.handleGrantPermissionToPerson).Methods(http.MethodPost)

	// Person-scoped listings and the admin-side permission probe
	r.HandleFunc("/people/{person_id}/services", s.handleListServicesOfPerson).Methods(http.MethodGet)
	r.HandleFunc("/people/{person_id}/services/{service_id}/roles", s.handleListPersonRolesInService).Methods(http.MethodGet)
	r.HandleFunc("/people/{person_id}/services/{service_id}/permissions/{permission_name}", s.handleProbePermission).Methods(http.MethodGet)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"service": "warden", "status": "ok"})
}
