package persistence

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbeddedInOrder(t *testing.T) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/001_users.sql", "migrations/002_sessions.sql"}, names)

	sessions, err := migrationFiles.ReadFile("migrations/002_sessions.sql")
	require.NoError(t, err)
	assert.Contains(t, string(sessions), "refresh_token_id")
}
