package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxManagerWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		m := NewTxManager(db, quietLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM spot_reservations`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := m.WithTx(ctx, func(ctx context.Context) error {
			assert.True(t, InTx(ctx))
			_, err := Conn(ctx, db).ExecContext(ctx, `DELETE FROM spot_reservations WHERE session_id = $1`, "s")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		m := NewTxManager(db, quietLogger())

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := m.WithTx(ctx, func(ctx context.Context) error {
			return fmt.Errorf("no spots")
		})
		assert.EqualError(t, err, "no spots")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Retries serialization failures", func(t *testing.T) {
		db, mock := newMockDB(t)
		m := NewTxManager(db, quietLogger())

		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err := m.WithTx(ctx, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return &pgconn.PgError{Code: "40001"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		db, mock := newMockDB(t)
		m := NewTxManager(db, quietLogger())

		for i := 0; i < 3; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		err := m.WithTx(ctx, func(ctx context.Context) error {
			return &pgconn.PgError{Code: "40P01"}
		})
		assert.True(t, IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		m := NewTxManager(db, quietLogger())

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := m.WithTx(ctx, func(outer context.Context) error {
			return m.WithTx(outer, func(inner context.Context) error {
				assert.Same(t, Conn(outer, db), Conn(inner, db))
				return nil
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgErrorClassification(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	t.Run("Applies pending migrations", func(t *testing.T) {
		db, mock := newMockDB(t)

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
		for _, f := range files {
			mock.ExpectQuery(`SELECT EXISTS`).WithArgs(f).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			mock.ExpectBegin()
			mock.ExpectExec(`.+`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(f).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		require.NoError(t, Migrate(ctx, db, quietLogger()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Skips applied migrations", func(t *testing.T) {
		db, mock := newMockDB(t)

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
		for _, f := range files {
			mock.ExpectQuery(`SELECT EXISTS`).WithArgs(f).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		}

		require.NoError(t, Migrate(ctx, db, quietLogger()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
