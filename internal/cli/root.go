// Package cli is the quizbot command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("QUIZBOT_CONFIG")
	if envConfig == "" {
		envConfig = "./config.yaml"
	}
	var configPath string

	cmd := &cobra.Command{
		Use:           "quizbot",
		Short:         "Post Telegram quiz polls on a cron schedule",
		SilenceUsage: true,
		// Without a subcommand the bot runs, like the plain binary always did.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to JSON or YAML config (env QUIZBOT_CONFIG)")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newCheckCmd(&configPath))
	cmd.AddCommand(newNextCmd(&configPath))
	cmd.AddCommand(newImportCmd(&configPath))
	return cmd
}
