package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grading/internal/db"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestParseDriver(t *testing.T) {
	for in, want := range map[string]db.Driver{
		"":         db.DriverSQLite,
		"sqlite3":  db.DriverSQLite,
		"PG":       db.DriverPostgres,
		"pgx":      db.DriverPostgres,
		"postgres": db.DriverPostgres,
	} {
		got, err := db.ParseDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := db.ParseDriver("mysql")
	assert.Error(t, err)
}

func TestOpen_MigratesSchema(t *testing.T) {
	conn := openMemory(t)

	for _, table := range []string{"sections", "activities", "enrollments", "raw_scores", "weight_entries", "final_grades", "event_log", "sync_cursor"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	v, dirty, err := db.SchemaVersion(conn, db.DriverSQLite)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), v)

	// second run is a no-op
	require.NoError(t, db.Migrate(conn, db.DriverSQLite))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, conn, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sections(id) VALUES ($1)`, "s1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sections`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.WithTx(ctx, conn, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO sections(id) VALUES ($1)`, "s1")
		return err
	}))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sections`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDriverOf(t *testing.T) {
	assert.Equal(t, db.DriverSQLite, db.DriverOf(openMemory(t)))

	// sql.Open does not dial, so no server is needed to inspect the driver.
	pg, err := sql.Open("pgx", "postgres://localhost:5432/grading?sslmode=disable")
	require.NoError(t, err)
	defer pg.Close()
	assert.Equal(t, db.DriverPostgres, db.DriverOf(pg))
}
