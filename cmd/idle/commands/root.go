package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "idle",
		Short: "IdLE - Identity Lifecycle Engine",
		Long: `IdLE plans and executes identity lifecycle workflows: joiners, movers,
and leavers described as declarative, data-only documents.

A run happens in two phases:
  - Build: workflow + request -> immutable plan (templates resolved,
    capabilities checked against the wired providers, no side effects)
  - Execute: strictly sequential steps, fail-fast primaries, best-effort
    OnFailure remediation, full event timeline

Plans are plain JSON and can be exported, reviewed, and diffed before
anything touches a connected system.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
