package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore wires a sqlmock-backed *sql.DB into a sqlx.DB the way
// buildStore wires a real one, mirroring the sqlmock.New()-then-wrap
// pattern the teacher uses against its own raw-SQL handles in
// applications/httpapi/neo_provider_test.go.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetVariableFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM variables WHERE monitor_id = \$1 AND key = \$2`).
		WithArgs(int64(7), "cursor").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"n":1}`)))

	value, found, err := store.GetVariable(context.Background(), 7, "cursor")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"n":1}`), value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVariableNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT value FROM variables WHERE monitor_id = \$1 AND key = \$2`).
		WithArgs(int64(7), "missing").
		WillReturnError(sql.ErrNoRows)

	value, found, err := store.GetVariable(context.Background(), 7, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetVariableUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO variables \(monitor_id, key, value, updated_at\)`).
		WithArgs(int64(7), "cursor", []byte(`{"n":2}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetVariable(context.Background(), 7, "cursor", []byte(`{"n":2}`), time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
