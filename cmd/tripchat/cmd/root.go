package cmd

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/voyago/tripchat/internal/auth"
	"github.com/voyago/tripchat/internal/client"
	"github.com/voyago/tripchat/internal/config"
	"github.com/voyago/tripchat/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tripchat",
	Short: "Trip chat client",
	Long: `tripchat is a terminal client for the trip chat service.

Available commands:
  login      Store the API token used for authentication
  logout     Forget the stored API token
  history    Print the message history of a trip
  chat       Join a trip's chat room interactively

Use "tripchat [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(logging.New)
}

// env bundles the pieces every command needs.
type env struct {
	cfg    *config.Config
	tokens *auth.TokenStore
	api    *client.API
}

func newEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenStore(afero.NewOsFs(), cfg.TokenFile)
	return &env{
		cfg:    cfg,
		tokens: tokens,
		api:    client.NewAPI(cfg.APIBaseURL, tokens),
	}, nil
}
