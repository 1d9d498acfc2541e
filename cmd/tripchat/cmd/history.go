package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyago/tripchat/internal/domain"
)

var historyCmd = &cobra.Command{
	Use:   "history <trip-id>",
	Short: "Print the message history of a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		msgs, err := e.api.Messages(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		for _, msg := range msgs {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
		}
		return nil
	},
}

func formatMessage(msg domain.Message) string {
	name := msg.Username
	if msg.Sender == domain.SenderSystem {
		name = "*"
	}
	return fmt.Sprintf("%s %s: %s", msg.CreatedAt.Local().Format("15:04"), name, msg.Content)
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
