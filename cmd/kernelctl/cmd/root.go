package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the kernelctl application
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernelctl",
		Short: "kernelctl - Tools for working with module kernel manifests",
		Long: `kernelctl inspects a module root without booting anything.
It validates manifests, resolves the dependency graph, and reads mirrored
event logs.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewGraphCommand())
	cmd.AddCommand(NewReplayCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kernelctl v%s (commit: %s, built on: %s)\n", Version, Commit, Date)
		},
	}
}
