package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "proxies; DROP TABLE users")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS proxy_snapshot").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRewritesInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	addrs := []string{"1.2.3.4:80", "5.6.7.8:8080"}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM proxy_snapshot").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO proxy_snapshot").WithArgs(addrs).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), addrs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	addrs := []string{"1.2.3.4:80"}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM proxy_snapshot").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO proxy_snapshot").WithArgs(addrs).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), addrs)
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOrdersByPosition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT address FROM proxy_snapshot ORDER BY position").
		WillReturnRows(pgxmock.NewRows([]string{"address"}).AddRow("5.6.7.8:8080").AddRow("1.2.3.4:80"))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"5.6.7.8:8080", "1.2.3.4:80"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM proxy_snapshot").WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.Remove(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
