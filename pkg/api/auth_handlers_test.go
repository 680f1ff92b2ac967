package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

type fixedClock struct{ now int64 }

func (f fixedClock) Now() int64 { return f.now }

const testNow = int64(10_000)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens := auth.NewManager(db, auth.Config{
		UserTTLSeconds:        300,
		ServiceTTLSeconds:     604800,
		RenewThresholdSeconds: 30,
		Secret:                "test_secret",
	}, fixedClock{now: testNow})
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewServer(db, tokens, logger), mock
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

const (
	selectTokenSQL = `SELECT token, payload, expires_at FROM auth\.tokens_cache WHERE token = \$1`
	credentialsSQL = `SELECT id, username, password_hash, name FROM auth\.person`
	activeTokenSQL = `SELECT token, payload, expires_at FROM auth\.tokens_cache\s+WHERE payload ->> 'user_id' = \$1`
)

func validUserRow(expiresAt int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"token", "payload", "expires_at"}).
		AddRow("tok", []byte(`{"user_id":7,"username":"adm1","name":"Admin One"}`), expiresAt)
}

func expectAuth(mock sqlmock.Sqlmock) {
	// Far from expiry: validation reads the row and renews nothing
	mock.ExpectQuery(selectTokenSQL).WithArgs("tok").WillReturnRows(validUserRow(testNow + 200))
}

func TestLoginHappyPath(t *testing.T) {
	s, mock := newTestServer(t)

	digest, err := auth.HashPassword("adm1-pass")
	require.NoError(t, err)

	mock.ExpectQuery(credentialsSQL).
		WithArgs("adm1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}).
			AddRow(7, "adm1", digest, "Admin One"))
	mock.ExpectQuery(activeTokenSQL).
		WithArgs("7", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"token", "payload", "expires_at"}))
	mock.ExpectExec(`INSERT INTO auth\.tokens_cache`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testNow+300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/auth/login",
		map[string]string{"username": "adm1", "password": "adm1-pass"}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["user_token"])
	assert.Equal(t, float64(testNow+300), body["expires_at"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "adm1", payload["username"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginReusesActiveToken(t *testing.T) {
	s, mock := newTestServer(t)

	digest, err := auth.HashPassword("adm1-pass")
	require.NoError(t, err)

	mock.ExpectQuery(credentialsSQL).
		WithArgs("adm1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}).
			AddRow(7, "adm1", digest, "Admin One"))
	// A live token exists: no INSERT may follow
	mock.ExpectQuery(activeTokenSQL).
		WithArgs("7", testNow).
		WillReturnRows(validUserRow(testNow + 120))

	rec := doJSON(t, s, http.MethodPost, "/auth/login",
		map[string]string{"username": "adm1", "password": "adm1-pass"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok", body["user_token"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginWrongPassword(t *testing.T) {
	s, mock := newTestServer(t)

	digest, err := auth.HashPassword("right")
	require.NoError(t, err)

	mock.ExpectQuery(credentialsSQL).
		WithArgs("adm1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}).
			AddRow(7, "adm1", digest, "Admin One"))

	rec := doJSON(t, s, http.MethodPost, "/auth/login",
		map[string]string{"username": "adm1", "password": "wrong"}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, rec)["error"])
}

func TestLoginUnknownUser(t *testing.T) {
	s, mock := newTestServer(t)

	mock.ExpectQuery(credentialsSQL).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}))

	rec := doJSON(t, s, http.MethodPost, "/auth/login",
		map[string]string{"username": "ghost", "password": "x"}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, rec)["error"])
}

func TestLoginInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/auth/login", map[string]string{"username": "adm1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeBody(t, rec)["error"])
}

func TestProfileMissingHeader(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/auth/profile", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token_header", decodeBody(t, rec)["error"])
}

func TestProfileHappyPath(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	rec := doJSON(t, s, http.MethodGet, "/auth/profile", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["renewed"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "adm1", payload["username"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileExpiredTokenIsDeleted(t *testing.T) {
	s, mock := newTestServer(t)

	mock.ExpectQuery(selectTokenSQL).WithArgs("tok").WillReturnRows(validUserRow(testNow - 1))
	mock.ExpectExec(`DELETE FROM auth\.tokens_cache WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodGet, "/auth/profile", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "expired_token", decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTokenRenewsNearExpiry(t *testing.T) {
	s, mock := newTestServer(t)

	// 20s remaining, threshold 30: the CAS renewal lands
	mock.ExpectQuery(selectTokenSQL).WithArgs("tok").WillReturnRows(validUserRow(testNow + 20))
	mock.ExpectExec(`UPDATE auth\.tokens_cache SET expires_at = \$1 WHERE token = \$2 AND expires_at = \$3`).
		WithArgs(testNow+300, "tok", testNow+20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/check-token", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["renewed"])
	assert.Equal(t, float64(testNow+300), body["expires_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogoutRevokesToken(t *testing.T) {
	s, mock := newTestServer(t)

	// Logout validates without renewal, then deletes the row
	mock.ExpectQuery(selectTokenSQL).WithArgs("tok").WillReturnRows(validUserRow(testNow + 200))
	mock.ExpectExec(`DELETE FROM auth\.tokens_cache WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/auth/logout", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged_out", decodeBody(t, rec)["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPermissionBothSourcesRejected(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	rec := doJSON(t, s, http.MethodPost, "/check-permission",
		map[string]interface{}{"service_id": 1},
		map[string]string{"user-token": "tok", "service-token": "svc"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeBody(t, rec)["error"])
}

func TestCheckPermissionNeitherSourceRejected(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	rec := doJSON(t, s, http.MethodPost, "/check-permission", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeBody(t, rec)["error"])
}

func TestCheckPermissionBodyServiceIDCacheMiss(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT permissions, expires_at FROM auth\.permissions_cache`).
		WithArgs("tok", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions", "expires_at"}))
	mock.ExpectQuery(`SELECT roles, permissions FROM auth\.resolve_access\(\$1, \$2\)`).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"roles", "permissions"}).
			AddRow([]byte(`{admin}`), []byte(`{users:read}`)))
	mock.ExpectExec(`INSERT INTO auth\.permissions_cache`).
		WithArgs("tok", int64(1), sqlmock.AnyArg(), testNow+300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/check-permission",
		map[string]interface{}{"service_id": 1, "permission_name": "users:read"},
		map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["has_permission"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPermissionCacheHitReturnsFullAccess(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	cached := `{"user_id":7,"service_id":1,"roles":["admin"],"permissions":["users:read"],"scopes":[],"expires_at":10200}`
	mock.ExpectQuery(`SELECT permissions, expires_at FROM auth\.permissions_cache`).
		WithArgs("tok", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions", "expires_at"}).
			AddRow([]byte(cached), testNow+200))

	rec := doJSON(t, s, http.MethodPost, "/check-permission",
		map[string]interface{}{"service_id": 1},
		map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	access := body["access"].(map[string]interface{})
	assert.Equal(t, []interface{}{"admin"}, access["roles"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPermissionServiceTokenPath(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	// Service token resolves and its service is active
	mock.ExpectQuery(selectTokenSQL).
		WithArgs("svc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "payload", "expires_at"}).
			AddRow("svc", []byte(`{"service_id":1,"service_name":"billing","token_type":"service"}`), testNow+600000))
	mock.ExpectQuery(`SELECT status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(true))
	mock.ExpectQuery(`SELECT permissions, expires_at FROM auth\.permissions_cache`).
		WithArgs("tok", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"permissions", "expires_at"}))
	mock.ExpectQuery(`SELECT roles, permissions FROM auth\.resolve_access\(\$1, \$2\)`).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"roles", "permissions"}).
			AddRow([]byte(`{}`), []byte(`{}`)))
	mock.ExpectExec(`INSERT INTO auth\.permissions_cache`).
		WithArgs("tok", int64(1), sqlmock.AnyArg(), testNow+300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/check-permission", nil,
		map[string]string{"user-token": "tok", "service-token": "svc"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	access := body["access"].(map[string]interface{})
	assert.Equal(t, []interface{}{}, access["permissions"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPermissionInactiveService(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(selectTokenSQL).
		WithArgs("svc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "payload", "expires_at"}).
			AddRow("svc", []byte(`{"service_id":1,"token_type":"service"}`), testNow+600000))
	mock.ExpectQuery(`SELECT status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(false))

	rec := doJSON(t, s, http.MethodPost, "/check-permission", nil,
		map[string]string{"user-token": "tok", "service-token": "svc"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "service_inactive", decodeBody(t, rec)["error"])
}

func TestCheckPermissionUnknownServiceToken(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(selectTokenSQL).
		WithArgs("svc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "payload", "expires_at"}))

	rec := doJSON(t, s, http.MethodPost, "/check-permission", nil,
		map[string]string{"user-token": "tok", "service-token": "svc"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_service_token", decodeBody(t, rec)["error"])
}

func TestIssueServiceToken(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT id, name, description, status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "status"}).
			AddRow(3, "billing", nil, true))
	mock.ExpectExec(`INSERT INTO auth\.tokens_cache`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testNow+604800).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(t, s, http.MethodPost, "/services/3/token", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["service_id"])
	assert.Equal(t, "billing", body["service_name"])
	assert.NotEmpty(t, body["service_token"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueServiceTokenNotFound(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT id, name, description, status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "status"}))

	rec := doJSON(t, s, http.MethodPost, "/services/404/token", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "service_not_found", decodeBody(t, rec)["error"])
}

func TestIssueServiceTokenInactive(t *testing.T) {
	s, mock := newTestServer(t)
	expectAuth(mock)

	mock.ExpectQuery(`SELECT id, name, description, status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "status"}).
			AddRow(3, "billing", nil, false))

	rec := doJSON(t, s, http.MethodPost, "/services/3/token", nil, map[string]string{"user-token": "tok"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "service_inactive", decodeBody(t, rec)["error"])
}
