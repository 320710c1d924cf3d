package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/config"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOutput bool

	// version is reported to telemetry backends.
	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "playtree",
		Short: "playtree - execution plan trees for configuration management",
		Long: `playtree builds execution plan trees out of plays, writes one playbook and
one inventory per play, and runs a configuration management command over them.

Plans are Starlark scripts composing plays with sequential() and parallel().
Sequential branches stop at the first failure; parallel branches run side by
side under a global concurrency limit.

Features:
  - Typed project files via CUE
  - Plan scripts via Starlark
  - Host registry and run history in SQLite
  - WASM inventory plugins
  - Play policies via OPA/rego
  - Local or SSH command execution`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultProjectFile, "project file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the project log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newSynthCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
