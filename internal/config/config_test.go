package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/tripchat/internal/config"
	"github.com/voyago/tripchat/internal/testutils"
)

func TestNew_DefaultsToLocalServer(t *testing.T) {
	t.Setenv("TRIPCHAT_API_URL", "")
	t.Setenv("TRIPCHAT_WS_URL", "")
	t.Setenv("TRIPCHAT_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))

	cfg, err := config.New()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8484", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:8484/ws", cfg.WSURL)
}

func TestNew_ReadsEnvironment(t *testing.T) {
	t.Setenv("TRIPCHAT_API_URL", "https://api.voyago.app")
	t.Setenv("TRIPCHAT_WS_URL", "wss://api.voyago.app/ws")
	t.Setenv("TRIPCHAT_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))

	cfg, err := config.New()
	require.NoError(t, err)
	assert.Equal(t, "https://api.voyago.app", cfg.APIBaseURL)
	assert.Equal(t, "wss://api.voyago.app/ws", cfg.WSURL)
}

func TestNew_RejectsInvalidURL(t *testing.T) {
	t.Setenv("TRIPCHAT_API_URL", "not a url")
	t.Setenv("TRIPCHAT_WS_URL", "ws://localhost:8484/ws")
	t.Setenv("TRIPCHAT_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))

	_, err := config.New()
	require.Error(t, err)
}

func TestConfigForTests(t *testing.T) {
	cfg := testutils.ConfigForTests(t)
	assert.NotEmpty(t, cfg.APIBaseURL)
	assert.NotEmpty(t, cfg.WSURL)
	assert.NotEmpty(t, cfg.TokenFile)
}
