package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.db")

	db, err := Open(path)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('corrections', 'settings')`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.Close())

	// Reopening an existing database is a no-op on the schema.
	db, err = Open(path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}
