package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesMigrationsAndIsReopenable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	st, err := Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	v, err := st.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, v, 0, "at least one migration must have been applied")
	require.NoError(t, st.Close())

	// Reopening the same file must not fail or re-apply migrations.
	st2, err := Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer st2.Close()

	v2, err := st2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestExecAndQuery_RoundTripRow(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	_, err = st.Exec(ctx, `INSERT INTO principles (statement, weight, created_at, updated_at) VALUES (?,?,?,?)`,
		"never average down on a SHORT", 1.0, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	var statement string
	require.NoError(t, st.QueryRow(ctx, `SELECT statement FROM principles WHERE weight = ?`, 1.0).Scan(&statement))
	assert.Equal(t, "never average down on a SHORT", statement)

	rows, err := st.Query(ctx, `SELECT statement FROM principles`)
	require.NoError(t, err)
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestWithTx_CommitsWrittenRowsOnSuccess(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO principles (statement, weight, created_at, updated_at) VALUES (?,?,?,?)`,
			"size positions to conviction", 1.0, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, st.QueryRow(ctx, `SELECT COUNT(*) FROM principles`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTx_RollsBackAllWritesOnError(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO principles (statement, weight, created_at, updated_at) VALUES (?,?,?,?)`,
			"doomed insert", 1.0, "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
			return err
		}
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))

	var count int
	require.NoError(t, st.QueryRow(ctx, `SELECT COUNT(*) FROM principles`).Scan(&count))
	assert.Equal(t, 0, count, "a failed transaction must leave no partial writes")
}
