package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Build information, set by Execute.
	buildVersion string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge - Declarative Resource Provisioning Engine",
		Long: `Converge reconciles declared resource intents against a cloud provider.

Operators declare budgets and container services as YAML intents; Converge
validates them, admits them through policy, and drives the provider until
the live state matches the declared state. Divergence is detected by
periodic drift scans and surfaced as alerts, never auto-corrected.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())

	return rootCmd
}
