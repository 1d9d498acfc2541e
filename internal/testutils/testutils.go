package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/voyago/tripchat/internal/config"
	"github.com/voyago/tripchat/internal/logging"
)

// ConfigForTests returns a valid configuration for integration tests. It
// loads an optional .env.test from the project root, applies it with
// t.Setenv, and fills in safe local defaults for anything left unset.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	if root, ok := projectRoot(); ok {
		if env, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
			for key, value := range env {
				t.Setenv(key, value)
			}
		}
	}

	if os.Getenv("TRIPCHAT_TOKEN_FILE") == "" {
		t.Setenv("TRIPCHAT_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))
	}

	logging.New()

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("failed to build test config: %v", err)
	}
	return cfg
}

// projectRoot walks up from the working directory until it finds go.mod.
func projectRoot() (string, bool) {
	path, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, true
		}
		if path == filepath.Dir(path) {
			return "", false
		}
		path = filepath.Dir(path)
	}
}
