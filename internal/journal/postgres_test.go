package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestPostgres_EnsureSchema(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trial_log").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, NewPostgres(mock, "run1").EnsureSchema(context.Background()))
}

func TestPostgres_Read(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("SELECT seq, record FROM trial_log").
		WithArgs("run1", int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "record"}).
			AddRow(int64(1), `{"op":"header"}`).
			AddRow(int64(2), `{"op":"create"}`))

	records, cursor, err := NewPostgres(mock, "run1").Read(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"op":"create"}`, string(records[1]))
	assert.Equal(t, int64(2), cursor)
}

func TestPostgres_ReadError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("SELECT seq, record FROM trial_log").
		WithArgs("run1", int64(4)).
		WillReturnError(errors.New("connection reset"))

	_, cursor, err := NewPostgres(mock, "run1").Read(context.Background(), 4)
	assert.Error(t, err)
	assert.Equal(t, int64(4), cursor)
}

func TestPostgres_Append(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("run1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("run1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(2)))
	mock.ExpectExec("INSERT INTO trial_log").
		WithArgs("run1", int64(3), "a").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO trial_log").
		WithArgs("run1", int64(4), "b").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ok, err := NewPostgres(mock, "run1").Append(context.Background(), 2, []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_AppendConflict(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("run1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("run1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(5)))
	mock.ExpectRollback()

	ok, err := NewPostgres(mock, "run1").Append(context.Background(), 3, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_AppendInsertError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("run1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("run1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec("INSERT INTO trial_log").
		WithArgs("run1", int64(1), "a").
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	ok, err := NewPostgres(mock, "run1").Append(context.Background(), -1, []byte("a"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPostgres_Delete(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("DELETE FROM trial_log").
		WithArgs("run1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, NewPostgres(mock, "run1").Delete(context.Background()))
}
