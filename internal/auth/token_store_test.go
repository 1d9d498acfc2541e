package auth

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/tripchat/internal/domain"
)

func TestTokenStore_LoadMissing(t *testing.T) {
	store := NewTokenStore(afero.NewMemMapFs(), "/home/u/.tripchat/token")

	_, err := store.Load()
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestTokenStore_SaveLoad(t *testing.T) {
	store := NewTokenStore(afero.NewMemMapFs(), "/home/u/.tripchat/token")

	require.NoError(t, store.Save("secret-token"))

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
}

func TestTokenStore_LoadTrimsWhitespace(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/token", []byte("  abc\n"), 0o600))
	store := NewTokenStore(fs, "/token")

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestTokenStore_EmptyFileMeansLoggedOut(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/token", []byte("\n"), 0o600))
	store := NewTokenStore(fs, "/token")

	_, err := store.Load()
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestTokenStore_Clear(t *testing.T) {
	store := NewTokenStore(afero.NewMemMapFs(), "/token")
	require.NoError(t, store.Save("tok"))

	require.NoError(t, store.Clear())
	_, err := store.Load()
	assert.ErrorIs(t, err, domain.ErrNoCredentials)

	// Clearing again is a no-op.
	require.NoError(t, store.Clear())
}
