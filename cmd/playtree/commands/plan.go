package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/config"
	"github.com/openfroyo/playtree/pkg/engine"
)

// planNode is one node of a printed plan tree.
type planNode struct {
	Name     string          `json:"name"`
	Kind     engine.NodeKind `json:"kind"`
	Depth    int             `json:"depth"`
	Play     string          `json:"play,omitempty"`
	HostRefs []string        `json:"host_refs,omitempty"`
	Hosts    []string        `json:"hosts,omitempty"`
	Tasks    int             `json:"tasks,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var (
		target  string
		vars    []string
		resolve bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan tree",
		Long: `Show the execution plan tree of a root and the leaf names its artifacts
will be written under.

Plays are not resolved unless --resolve is given, in which case every play is
resolved and its hosts and task count are shown. Resolution may run inventory
plugins and read the host registry.`,
		Example: `  # Show the only root of the plan
  playtree plan

  # Show a named root with resolved hosts
  playtree plan --target site --resolve

  # Machine readable output
  playtree plan --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			if resolve {
				if _, err := ws.openStore(ctx); err != nil {
					return err
				}
			}
			plan, err := ws.loadPlan(ctx, vars)
			if err != nil {
				return err
			}
			root, err := plan.Target(target)
			if err != nil {
				return err
			}
			if err := engine.CheckUniqueNames(root.Node, root.Name); err != nil {
				return err
			}

			var nodes []planNode
			err = root.Node.Visit(root.Name, func(name string, depth int, n *engine.Node) error {
				pn := planNode{Name: name, Kind: n.Kind(), Depth: depth}
				if leaf := n.Leaf(); leaf != nil {
					pn.Play = leaf.Name()
					pn.HostRefs = config.HostRefs(n)
					if resolve {
						play, err := leaf.Resolve(ctx)
						if err != nil {
							return engine.NewResolutionError("failed to resolve play", err).WithLeaf(name)
						}
						for _, h := range play.Hosts {
							host, _, err := h.Resolve(ctx)
							if err != nil {
								return engine.NewResolutionError("failed to resolve host", err).
									WithLeaf(name).WithCode(engine.ErrCodeHostFailed)
							}
							pn.Hosts = append(pn.Hosts, host)
						}
						pn.Tasks = len(play.Tasks)
					}
				}
				nodes = append(nodes, pn)
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(nodes)
			}

			for _, n := range nodes {
				indent := strings.Repeat("  ", n.Depth)
				if n.Kind != engine.KindSingle {
					fmt.Fprintf(out, "%s%s [%s]\n", indent, n.Name, n.Kind)
					continue
				}
				fmt.Fprintf(out, "%s%s (play %q)", indent, n.Name, n.Play)
				switch {
				case resolve:
					fmt.Fprintf(out, " hosts: %s, tasks: %d", strings.Join(n.Hosts, ", "), n.Tasks)
				case len(n.HostRefs) > 0:
					fmt.Fprintf(out, " hosts: %s", strings.Join(n.HostRefs, ", "))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "\n%d leaves\n", root.Node.LeafCount())
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "root to show (required when the plan registers several)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "plan variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve plays and show their hosts")

	return cmd
}
