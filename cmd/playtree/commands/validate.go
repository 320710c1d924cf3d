package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/engine"
)

type validateReport struct {
	Project  string       `json:"project"`
	Plan     string       `json:"plan"`
	Roots    []rootReport `json:"roots"`
	Policies []string     `json:"policies"`
}

type rootReport struct {
	Name   string `json:"name"`
	Leaves int    `json:"leaves"`
}

func newValidateCommand() *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project file, plan script and policies",
		Long: `Validate the project without resolving plays or running anything.

This command checks:
  - The project file against its CUE schema
  - The plan script evaluates and registers at least one root
  - Leaf names are unique within every root
  - Configured policies compile`,
		Example: `  # Validate the project in the current directory
  playtree validate

  # Validate with plan variables
  playtree validate --var env=staging`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			ws.logger.Info().
				Str("project", ws.project.Name).
				Str("plan", ws.project.Plan).
				Msg("Validating project")

			plan, err := ws.loadPlan(cmd.Context(), vars)
			if err != nil {
				return err
			}

			report := validateReport{
				Project: ws.project.Name,
				Plan:    plan.Path,
			}
			for _, root := range plan.Roots {
				if err := engine.CheckUniqueNames(root.Node, root.Name); err != nil {
					return err
				}
				report.Roots = append(report.Roots, rootReport{Name: root.Name, Leaves: root.Node.LeafCount()})
			}

			pe, err := ws.policyEngine(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pe.ListPolicies() {
				report.Policies = append(report.Policies, p.Name)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "✓ Project %s is valid\n", report.Project)
			for _, r := range report.Roots {
				fmt.Fprintf(out, "✓ Root %s: %d leaves\n", r.Name, r.Leaves)
			}
			fmt.Fprintf(out, "✓ %d policies loaded\n", len(report.Policies))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "plan variable as key=value (repeatable)")

	return cmd
}
