package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the tripchat client and tooling.
type Config struct {
	// APIBaseURL is the base URL of the REST backend, e.g. "https://api.voyago.app".
	APIBaseURL string `validate:"required,url"`
	// WSURL is the websocket endpoint of the chat backend, e.g. "wss://api.voyago.app/ws".
	WSURL string `validate:"required"`
	// TokenFile is the path of the persisted bearer credential.
	TokenFile string `validate:"required"`
}

// New loads configuration from environment variables, falling back to a .env
// file when present. It returns an error instead of exiting so callers such
// as the CLI can surface the problem themselves.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIBaseURL: os.Getenv("TRIPCHAT_API_URL"),
		WSURL:      os.Getenv("TRIPCHAT_WS_URL"),
		TokenFile:  os.Getenv("TRIPCHAT_TOKEN_FILE"),
	}

	// Default to the local development server so the CLI works out of
	// the box against chatd.
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8484"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "ws://localhost:8484/ws"
	}

	if cfg.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default token path: %w", err)
		}
		cfg.TokenFile = filepath.Join(home, ".tripchat", "token")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
