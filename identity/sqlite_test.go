package identity

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer b.Close()

	s := NewStore(b)
	inst, err := s.InstallationID()
	require.NoError(t, err)
	require.NoError(t, s.SetLocalCredits(3))

	again, err := s.InstallationID()
	require.NoError(t, err)
	assert.Equal(t, inst, again)

	n, err := s.LocalCredits()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSQLiteBackendSchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv").WillReturnError(errors.New("read-only file system"))

	_, err = NewSQLiteBackend(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create kv table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBackendReadFailureIsNotZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value FROM kv").
		WithArgs(KeyInstallationID).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("inst-1"))
	mock.ExpectQuery("SELECT value FROM kv").
		WithArgs(KeyLocalCredits).
		WillReturnError(errors.New("database is locked"))

	b, err := NewSQLiteBackend(db)
	require.NoError(t, err)

	_, err = NewStore(b).LocalCredits()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBackendMissingKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value FROM kv").
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	b, err := NewSQLiteBackend(db)
	require.NoError(t, err)

	_, ok, err := b.Get("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}
