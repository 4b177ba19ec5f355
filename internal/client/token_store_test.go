package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewFileTokenStore(path)

	_, ok := store.Get()
	assert.False(t, ok)

	want := Tokens{
		UserID:          "u1",
		AccessToken:     "a",
		RefreshToken:    "r",
		SessionToken:    "s",
		AccessExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Set(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, ok := NewFileTokenStore(path).Get()
	require.True(t, ok)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.SessionToken, got.SessionToken)
	assert.True(t, want.AccessExpiresAt.Equal(got.AccessExpiresAt))

	require.NoError(t, store.Clear())
	_, ok = store.Get()
	assert.False(t, ok)
	require.NoError(t, store.Clear())
}

func TestMemoryTokenStore(t *testing.T) {
	store := NewMemoryTokenStore()
	require.NoError(t, store.Set(Tokens{AccessToken: "a"}))
	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "a", got.AccessToken)

	require.NoError(t, store.Clear())
	_, ok = store.Get()
	assert.False(t, ok)
}
