// Package cli implements the openloaf CLI commands.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "openloaf",
	Short: "Run autonomous agent tasks on schedules and triggers",
	Long: `OpenLoaf runs AI agent tasks through a plan, confirm, execute and review
lifecycle. Tasks live in the workspace or in registered project roots and are
picked up by the openloafd daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add subcommands (alphabetical)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(versionCmd)
}
