package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	db, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, "sqlite3"))
	// migrations are idempotent
	require.NoError(t, Migrate(db, "sqlite3"))

	_, err = db.Exec("INSERT INTO users (username, email, password_hash, created_at) VALUES ('u', '', 'x', CURRENT_TIMESTAMP)")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenRejectsBadInput(t *testing.T) {
	_, err := Open("sqlite3", "")
	assert.Error(t, err)

	_, err = Open("postgres", "whatever")
	assert.Error(t, err)
}

func TestForeignKeysEnforced(t *testing.T) {
	db, err := Open("sqlite3", filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db, "sqlite3"))

	_, err = db.Exec("INSERT INTO sessions (id, user_id, state, key_handle, biography, created_at, updated_at) VALUES ('s', 999, 'NEW', 'k', '', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)")
	assert.Error(t, err)
}
