package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	var (
		flags         synthFlags
		maxConcurrent int64
		command       string
		synthOnly     bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Synthesize and run every leaf of a plan tree",
		Long: `Deploy a root of the plan tree.

Sequential nodes run their children in order and stop at the first failure.
Parallel nodes start all children at once and report the first failure while
the remaining children run to completion. Every leaf writes its playbook and
inventory, then runs the deploy command as:

  <command> -i <inventory> <playbook>

At most --max-concurrent commands run at the same time across the whole tree.
Runs and leaf results are recorded in the project database.`,
		Example: `  # Deploy the only root of the plan
  playtree deploy

  # Deploy a named root with at most two concurrent commands
  playtree deploy --target site --max-concurrent 2

  # Write artifacts only
  playtree deploy --synth-only

  # Stream events as JSON lines
  playtree deploy --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			opts := engine.DeployOptions{
				MaxConcurrent: ws.project.Deploy.MaxConcurrent,
				SynthOnly:     ws.project.Deploy.SynthOnly || synthOnly,
			}
			if cmd.Flags().Changed("max-concurrent") {
				opts.MaxConcurrent = maxConcurrent
			}
			if !cmd.Flags().Changed("command") {
				command = ws.project.Deploy.Command
			}

			if _, err := ws.openStore(ctx); err != nil {
				return err
			}
			plan, err := ws.loadPlan(ctx, flags.vars)
			if err != nil {
				return err
			}
			root, err := plan.Target(flags.target)
			if err != nil {
				return err
			}
			synth, err := ws.newSynthesizer(ctx, flags.skipPolicy)
			if err != nil {
				return err
			}

			var run engine.Runner
			if !opts.SynthOnly {
				r, closeRunner, err := ws.newRunner(ctx, command)
				if err != nil {
					return err
				}
				defer closeRunner()
				run = r
			}

			obs, err := ws.startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer obs.Shutdown()

			d, err := ws.newDeployer(synth, run, opts, obs)
			if err != nil {
				return err
			}

			ws.logger.Info().
				Str("root", root.Name).
				Int("leaves", root.Node.LeafCount()).
				Int64("max_concurrent", opts.MaxConcurrent).
				Bool("synth_only", opts.SynthOnly).
				Str("command", command).
				Msg("Starting deploy")

			result, deployErr := d.Deploy(ctx, root.Node, root.Name)
			// Parallel siblings of a failed leaf keep running; let them
			// finish before reporting and closing the store.
			result = d.Settle(ctx, result)

			if !jsonOutput {
				printRun(cmd.OutOrStdout(), result)
			}
			if deployErr != nil {
				if output := engine.OutputOf(deployErr); output != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "--- output of %s ---\n%s\n", engine.LeafOf(deployErr), output)
				}
				return deployErr
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Int64Var(&maxConcurrent, "max-concurrent", 4, "maximum number of commands running at once (default from project)")
	cmd.Flags().StringVar(&command, "command", "", "deploy command (default from project)")
	cmd.Flags().BoolVar(&synthOnly, "synth-only", false, "write artifacts without running the deploy command")

	return cmd
}

func printRun(out io.Writer, run *engine.Run) {
	if run == nil {
		return
	}
	mark := "✓"
	if run.Status != engine.RunStatusSucceeded {
		mark = "✗"
	}
	fmt.Fprintf(out, "%s Run %s %s in %s\n", mark, run.ID, run.Status, run.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  leaves:      %d\n", run.Summary.Total)
	fmt.Fprintf(out, "  synthesized: %d\n", run.Summary.Synthesized)
	if !run.SynthOnly {
		fmt.Fprintf(out, "  succeeded:   %d\n", run.Summary.Succeeded)
		fmt.Fprintf(out, "  failed:      %d\n", run.Summary.Failed)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "  error:       %s\n", run.Error)
	}
}
