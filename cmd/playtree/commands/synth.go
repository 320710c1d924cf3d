package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/engine"
)

type synthFlags struct {
	target     string
	vars       []string
	skipPolicy bool
}

func (f *synthFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "root to synthesize (required when the plan registers several)")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "plan variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&f.skipPolicy, "skip-policy", false, "do not check plays against policies")
}

func newSynthCommand() *cobra.Command {
	var flags synthFlags

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write playbooks and inventories without running anything",
		Long: `Resolve every play of a root and write one playbook and one inventory per
leaf, as JSON and YAML, into the project's output directories.

Both output directories are cleared first, so they only ever hold the
artifacts of the latest pass. Plays are checked against the configured
policies before their artifacts are written.`,
		Example: `  # Synthesize the only root of the plan
  playtree synth

  # Synthesize a named root with a plan variable
  playtree synth --target site --var env=prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			arts, err := synthesize(cmd.Context(), ws, flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(arts)
			}
			for _, a := range arts {
				fmt.Fprintf(out, "✓ %s\n    playbook:  %s\n    inventory: %s\n", a.Name, a.PlaybookText, a.InventoryText)
			}
			fmt.Fprintf(out, "\n%d leaves synthesized\n", len(arts))
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

// synthesize runs one synthesis pass over the selected root.
func synthesize(ctx context.Context, ws *workspace, flags synthFlags) ([]*engine.Artifacts, error) {
	if _, err := ws.openStore(ctx); err != nil {
		return nil, err
	}
	plan, err := ws.loadPlan(ctx, flags.vars)
	if err != nil {
		return nil, err
	}
	root, err := plan.Target(flags.target)
	if err != nil {
		return nil, err
	}
	synth, err := ws.newSynthesizer(ctx, flags.skipPolicy)
	if err != nil {
		return nil, err
	}

	ws.logger.Info().
		Str("root", root.Name).
		Int("leaves", root.Node.LeafCount()).
		Msg("Synthesizing artifacts")

	return synth.Synth(ctx, root.Node, root.Name)
}
