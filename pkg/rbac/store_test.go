package rbac

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreatePerson(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, username, name FROM auth\.create_person\(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("adm1", "digest", "Admin One", "N", "DNI", "12345678").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name"}).AddRow(7, "adm1", "Admin One"))

	person, err := store.CreatePerson(context.Background(), NewPerson{
		Username:       "adm1",
		PasswordDigest: "digest",
		Name:           "Admin One",
		PersonType:     PersonTypeNatural,
		DocumentType:   DocumentTypeDNI,
		DocumentNumber: "12345678",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), person.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPersonNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, username, name FROM auth\.get_person\(\$1\)`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name"}))

	_, err := store.GetPerson(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetCredentialsFiltersRemoved(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, username, password_hash, name FROM auth\.person\s+WHERE username = \$1 AND removed_at IS NULL`).
		WithArgs("adm1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}).
			AddRow(7, "adm1", "$2a$10$digest", "Admin One"))

	creds, err := store.GetCredentials(context.Background(), "adm1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), creds.ID)
	assert.Equal(t, "$2a$10$digest", creds.PasswordDigest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRolesUsesCatalogFunction(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, name FROM auth\.list_roles\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "admin").AddRow(2, "viewer"))

	roles, err := store.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceCRUD(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	desc := "billing backend"
	mock.ExpectQuery(`SELECT id, name, description FROM auth\.create_service\(\$1, \$2\)`).
		WithArgs("billing", &desc).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).AddRow(3, "billing", desc))

	service, err := store.CreateService(ctx, "billing", &desc)
	require.NoError(t, err)
	assert.True(t, service.Status)

	mock.ExpectQuery(`SELECT id, name, description, status FROM auth\.services WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "status"}).
			AddRow(3, "billing", desc, false))

	loaded, err := store.GetService(ctx, 3)
	require.NoError(t, err)
	assert.False(t, loaded.Status)

	status := true
	mock.ExpectExec(`CALL auth\.update_service\(\$1, \$2, \$3, \$4\)`).
		WithArgs(int64(3), nil, nil, &status).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateService(ctx, 3, nil, nil, &status))

	mock.ExpectExec(`CALL auth\.delete_service\(\$1\)`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteService(ctx, 3))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationCalls(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec(`CALL auth\.assign_permission_to_role\(\$1, \$2\)`).
		WithArgs(int64(2), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AssignPermissionToRole(ctx, 2, 11))

	mock.ExpectExec(`CALL auth\.assign_role_to_service\(\$1, \$2\)`).
		WithArgs(int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AssignRoleToService(ctx, 3, 2))

	mock.ExpectExec(`CALL auth\.assign_role_to_person_in_service\(\$1, \$2, \$3\)`).
		WithArgs(int64(7), int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AssignRoleToPersonInService(ctx, 7, 3, 2))

	mock.ExpectExec(`CALL auth\.remove_role_from_service\(\$1, \$2\)`).
		WithArgs(int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RemoveRoleFromService(ctx, 3, 2))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPersonPermissionInService(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT auth\.check_person_permission_in_service\(\$1, \$2, \$3\)`).
		WithArgs(int64(7), int64(3), "users:read").
		WillReturnRows(sqlmock.NewRows([]string{"check_person_permission_in_service"}).AddRow(true))

	has, err := store.CheckPersonPermissionInService(context.Background(), 7, 3, "users:read")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestServicesOfRole(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT service_id FROM auth\.service_roles WHERE role_id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"service_id"}).AddRow(3).AddRow(5))

	ids, err := store.ServicesOfRole(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids)
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, PersonTypeNatural.Valid())
	assert.True(t, PersonTypeJuridical.Valid())
	assert.False(t, PersonType("X").Valid())

	assert.True(t, DocumentTypeDNI.Valid())
	assert.True(t, DocumentTypeCE.Valid())
	assert.True(t, DocumentTypeRUC.Valid())
	assert.False(t, DocumentType("PASSPORT").Valid())
}
