// Package commands implements the miniclaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "miniclaw",
		Short: "miniclaw - personal assistant runtime",
		Long: `miniclaw is a personal assistant runtime with a recipe-driven
workflow engine, chat channels, and an HTTP dashboard.

Examples:
  miniclaw serve
  miniclaw chat "What is on my agenda today?"
  miniclaw workflow list
  miniclaw workflow run daily-brief --var audience=team`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newWorkflowCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
