package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/config"
)

func newInitCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter project",
		Long: `Create a starter project file and plan script.

The project file declares output directories, deploy defaults, static hosts
and telemetry settings. The plan script registers one sequential root with a
single ping play against localhost.`,
		Example: `  # Initialize the current directory
  playtree init

  # Initialize a new directory with an explicit project name
  playtree init ./site --name site`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", dir, err)
			}
			if name == "" {
				name = filepath.Base(abs)
			}

			log.Info().
				Str("dir", abs).
				Str("name", name).
				Msg("Initializing project")

			if err := os.MkdirAll(abs, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", abs, err)
			}

			out := cmd.OutOrStdout()
			written, err := config.WriteTemplate(abs, name)
			for _, path := range written {
				fmt.Fprintf(out, "✓ Created %s\n", path)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nProject %q initialized. Next steps:\n", name)
			fmt.Fprintf(out, "  playtree validate -c %s\n", filepath.Join(abs, config.DefaultProjectFile))
			fmt.Fprintf(out, "  playtree deploy --synth-only -c %s\n", filepath.Join(abs, config.DefaultProjectFile))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")

	return cmd
}
