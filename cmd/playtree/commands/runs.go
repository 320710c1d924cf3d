package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded deploy runs",
		Long: `Inspect the deploy runs recorded in the project database.

Every deploy records its status, leaf counts and the latest state of each
leaf: artifact paths, exit code, output and error.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Example: `  # Show the last ten runs
  playtree runs list --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			store, err := ws.openStore(ctx)
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROOT\tSTATUS\tLEAVES\tSUCCEEDED\tFAILED\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Root, r.Status, r.Total, r.Succeeded, r.Failed, r.StartedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

type runDetail struct {
	*stores.RunRecord
	Leaves []*stores.LeafResult `json:"leaves"`
}

func newRunsShowCommand() *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its leaf results",
		Example: `  # Show a run including command output
  playtree runs show 6f1c9a3e-1d2b-4c5e-9f00-0a1b2c3d4e5f --output`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			store, err := ws.openStore(ctx)
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return fmt.Errorf("failed to get run: %w", err)
			}
			leaves, err := store.ListLeafResults(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("failed to list leaf results: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runDetail{RunRecord: run, Leaves: leaves})
			}

			fmt.Fprintf(out, "Run:       %s\n", run.ID)
			fmt.Fprintf(out, "Root:      %s\n", run.Root)
			fmt.Fprintf(out, "Status:    %s\n", run.Status)
			fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "Duration:  %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
			}
			fmt.Fprintf(out, "Leaves:    %d total, %d synthesized, %d succeeded, %d failed\n",
				run.Total, run.Synthesized, run.Succeeded, run.Failed)
			if run.Error != nil {
				fmt.Fprintf(out, "Error:     %s\n", *run.Error)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LEAF\tSTATUS\tEXIT\tDURATION\tERROR")
			for _, l := range leaves {
				exit := "-"
				if l.ExitCode != nil {
					exit = fmt.Sprint(*l.ExitCode)
				}
				errMsg := ""
				if l.Error != nil {
					errMsg = *l.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.Leaf, l.Status, exit, l.Duration.Round(time.Millisecond), errMsg)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if showOutput {
				for _, l := range leaves {
					if l.Output == nil || *l.Output == "" {
						continue
					}
					fmt.Fprintf(out, "\n--- output of %s ---\n%s\n", l.Leaf, *l.Output)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOutput, "output", false, "print the command output of every leaf")

	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its leaf results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			store, err := ws.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.DeleteRun(ctx, args[0]); err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", args[0])
			return nil
		},
	}

	return cmd
}
