package rbac

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleIDUnmarshal(t *testing.T) {
	var payload struct {
		ServiceID FlexibleID `json:"service_id"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"service_id": 5}`), &payload))
	n, ok := payload.ServiceID.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	require.NoError(t, json.Unmarshal([]byte(`{"service_id": "billing"}`), &payload))
	s, ok := payload.ServiceID.String()
	assert.True(t, ok)
	assert.Equal(t, "billing", s)

	// Numeric strings normalize to integers
	require.NoError(t, json.Unmarshal([]byte(`{"service_id": "17"}`), &payload))
	n, ok = payload.ServiceID.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(17), n)

	assert.Error(t, json.Unmarshal([]byte(`{"service_id": [1]}`), &payload))
}

func TestFlexibleIDZero(t *testing.T) {
	var id FlexibleID
	assert.True(t, id.IsZero())
	assert.False(t, FlexibleIDFromInt(1).IsZero())
}

func TestResolveServiceIDByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery(`SELECT id FROM auth\.services WHERE name = \$1`).
		WithArgs("billing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	id, err := store.ResolveServiceID(context.Background(), FlexibleIDFromString("billing"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveServiceIDUnknownNameWithoutCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery(`SELECT id FROM auth\.services WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.ResolveServiceID(context.Background(), FlexibleIDFromString("ghost"), false)
	assert.ErrorIs(t, err, ErrInvalidServiceID)
}

func TestResolveServiceIDCreateIfMissingRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	// Lookup misses, the insert loses the race, the fallback select wins
	mock.ExpectQuery(`SELECT id FROM auth\.services WHERE name = \$1`).
		WithArgs("new-svc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO auth\.services \(name\) VALUES \(\$1\) ON CONFLICT \(name\) DO NOTHING RETURNING id`).
		WithArgs("new-svc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id FROM auth\.services WHERE name = \$1`).
		WithArgs("new-svc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

	id, err := store.ResolveServiceID(context.Background(), FlexibleIDFromString("new-svc"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePersonID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)
	ctx := context.Background()

	// Integer passes through without touching the store
	id, err := store.ResolvePersonID(ctx, FlexibleIDFromInt(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	// person-<digits> decodes directly
	id, err = store.ResolvePersonID(ctx, FlexibleIDFromString("person-37"))
	require.NoError(t, err)
	assert.Equal(t, int64(37), id)

	// Any other string is a username lookup over live persons
	mock.ExpectQuery(`SELECT id FROM auth\.person WHERE username = \$1 AND removed_at IS NULL`).
		WithArgs("adm1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	id, err = store.ResolvePersonID(ctx, FlexibleIDFromString("adm1"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	mock.ExpectQuery(`SELECT id FROM auth\.person WHERE username = \$1 AND removed_at IS NULL`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = store.ResolvePersonID(ctx, FlexibleIDFromString("nobody"))
	assert.ErrorIs(t, err, ErrPersonNotFound)

	// Empty input is invalid before any lookup
	_, err = store.ResolvePersonID(ctx, FlexibleIDFromString(""))
	assert.ErrorIs(t, err, ErrInvalidPersonID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePermissionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id FROM auth\.permission WHERE name = \$1`).
		WithArgs("users:read").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	id, err := store.ResolvePermissionID(ctx, FlexibleIDFromString("users:read"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	mock.ExpectQuery(`SELECT id FROM auth\.permission WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = store.ResolvePermissionID(ctx, FlexibleIDFromString("ghost"))
	assert.ErrorIs(t, err, ErrPermissionNotFound)
}
