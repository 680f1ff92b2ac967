package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/auth/login"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/profile"},
		{http.MethodPost, "/check-token"},
		{http.MethodPost, "/check-permission"},
		{http.MethodGet, "/check-permission"},
		{http.MethodPost, "/services/3/token"},
		{http.MethodGet, "/users"},
		{http.MethodPost, "/users"},
		{http.MethodGet, "/users/7"},
		{http.MethodPut, "/users/7"},
		{http.MethodDelete, "/users/7"},
		{http.MethodGet, "/services"},
		{http.MethodPost, "/services"},
		{http.MethodPut, "/services/3"},
		{http.MethodDelete, "/services/3"},
		{http.MethodGet, "/services/3/roles"},
		{http.MethodGet, "/services/3/roles/2/people"},
		{http.MethodGet, "/roles"},
		{http.MethodPost, "/roles"},
		{http.MethodGet, "/roles/2"},
		{http.MethodPut, "/roles/2"},
		{http.MethodDelete, "/roles/2"},
		{http.MethodGet, "/roles/2/permissions"},
		{http.MethodGet, "/permissions"},
		{http.MethodPost, "/permissions"},
		{http.MethodPut, "/permissions/11"},
		{http.MethodDelete, "/permissions/11"},
		{http.MethodPost, "/role-permissions"},
		{http.MethodDelete, "/role-permissions"},
		{http.MethodPost, "/service-roles"},
		{http.MethodDelete, "/service-roles"},
		{http.MethodPost, "/person-service-roles"},
		{http.MethodDelete, "/person-service-roles"},
		{http.MethodPost, "/person-service-permissions"},
		{http.MethodGet, "/people/7/services"},
		{http.MethodGet, "/people/7/services/3/roles"},
		{http.MethodGet, "/people/7/services/3/permissions/users:read"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			assert.True(t, s.Router().Match(req, &match), "route %s %s should be registered", tt.method, tt.path)
		})
	}
}

func TestCreateUserValidation(t *testing.T) {
	s, mock := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing fields", map[string]interface{}{"username": "u1"}},
		{"blank name", map[string]interface{}{
			"username": "u1", "password": "p", "name": "  ",
			"person_type": "N", "document_type": "DNI", "document_number": "1",
		}},
		{"bad person type", map[string]interface{}{
			"username": "u1", "password": "p", "name": "User",
			"person_type": "X", "document_type": "DNI", "document_number": "1",
		}},
		{"bad document type", map[string]interface{}{
			"username": "u1", "password": "p", "name": "User",
			"person_type": "N", "document_type": "PASSPORT", "document_number": "1",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectAuth(mock)
			rec := doJSON(t, s, http.MethodPost, "/users", tt.body, map[string]string{"user-token": "tok"})
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request_body", decodeBody(t, rec)["error"])
		})
	}
}

func TestCreateUserHashesPassword(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT id, username, name FROM auth\.create_person\(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("u1", sqlmock.AnyArg(), "User One", "N", "DNI", "12345678").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name"}).AddRow(9, "u1", "User One"))

	rec := doJSON(t, s, http.MethodPost, "/users", map[string]interface{}{
		"username": "u1", "password": "plaintext", "name": "User One",
		"person_type": "N", "document_type": "DNI", "document_number": "12345678",
	}, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(9), decodeBody(t, rec)["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserRevokesAndInvalidates(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectExec(`CALL auth\.delete_person\(\$1\)`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM auth\.permissions_cache`).
		WithArgs("9").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM auth\.tokens_cache WHERE payload ->> 'user_id' = \$1`).
		WithArgs("9").
		WillReturnResult(sqlmock.NewResult(0, 2))

	rec := doJSON(t, s, http.MethodDelete, "/users/9", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "user_deleted", body["status"])
	assert.Equal(t, float64(2), body["revoked_tokens"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateServiceInvalidatesCache(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectExec(`CALL auth\.update_service\(\$1, \$2, \$3, \$4\)`).
		WithArgs(int64(3), nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM auth\.permissions_cache WHERE service_id = \$1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	rec := doJSON(t, s, http.MethodPut, "/services/3",
		map[string]interface{}{"status": false}, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", decodeBody(t, rec)["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoleToPersonInvalidatesPair(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectExec(`CALL auth\.assign_role_to_person_in_service\(\$1, \$2, \$3\)`).
		WithArgs(int64(7), int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM auth\.permissions_cache`).
		WithArgs("7", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/person-service-roles",
		map[string]interface{}{"person_id": 7, "service_id": 3, "role_id": 2},
		map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantPermissionEndpoint(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	// permission_name resolves, then the synthetic role is created and linked
	mock.ExpectQuery(`SELECT id FROM auth\.permission WHERE name = \$1`).
		WithArgs("users:read").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(`SELECT id FROM auth\.role WHERE name = \$1`).
		WithArgs("direct:7:3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO auth\.role \(name\)`).
		WithArgs("direct:7:3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectExec(`INSERT INTO auth\.service_roles`).
		WithArgs(int64(3), int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO auth\.role_permission`).
		WithArgs(int64(21), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO auth\.person_service_role`).
		WithArgs(int64(7), int64(3), int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM auth\.permissions_cache`).
		WithArgs("7", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/person-service-permissions",
		map[string]interface{}{"person_id": 7, "service_id": 3, "permission_name": "users:read"},
		map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "permission_granted", body["status"])
	assert.Equal(t, float64(21), body["role_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbePermissionEndpoint(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT auth\.check_person_permission_in_service\(\$1, \$2, \$3\)`).
		WithArgs(int64(7), int64(3), "users:read").
		WillReturnRows(sqlmock.NewRows([]string{"check_person_permission_in_service"}).AddRow(false))

	rec := doJSON(t, s, http.MethodGet, "/people/7/services/3/permissions/users:read", nil,
		map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeBody(t, rec)["has_permission"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
