package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/inventory"
	"github.com/openfroyo/playtree/pkg/stores"
)

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Manage the host registry",
		Long: `Manage hosts in the project's host registry.

Plans refer to registered hosts as "registry:<name>". Registry entries are read
when a play is resolved, so edits apply to the next synthesis.`,
	}

	cmd.AddCommand(newHostsAddCommand())
	cmd.AddCommand(newHostsListCommand())
	cmd.AddCommand(newHostsRemoveCommand())

	return cmd
}

func newHostsAddCommand() *cobra.Command {
	var (
		address string
		port    int
		user    string
		vars    []string
		labels  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register or update a host",
		Example: `  # Register a web server
  playtree hosts add web1 --address 10.0.0.11 --user deploy --var role=web

  # Update its port
  playtree hosts add web1 --address 10.0.0.11 --port 2222`,
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

			hostVars, err := parseHostVars(vars)
			if err != nil {
				return err
			}
			host := &stores.Host{
				Name:    args[0],
				Address: address,
				Port:    port,
				User:    user,
				Vars:    hostVars,
				Labels:  labels,
			}
			if err := store.UpsertHost(ctx, host); err != nil {
				return fmt.Errorf("failed to register host: %w", err)
			}

			ws.logger.Info().
				Str("host", host.Name).
				Str("address", host.Address).
				Msg("Host registered")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Registered %s (%s:%d), use it as %q\n",
				host.Name, host.Address, host.Port, inventory.RegistryPrefix+host.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "host address")
	cmd.Flags().IntVar(&port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&user, "user", "", "remote user")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "host variable as key=value (repeatable, kept in order)")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "label as key=value")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

// parseHostVars keeps variables in flag order. Values that parse as
// integers or booleans are stored as such.
func parseHostVars(vars []string) (engine.Params, error) {
	var params engine.Params
	for _, v := range vars {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", v)
		}
		params = params.Set(strings.TrimSpace(key), scalar(value))
	}
	return params, nil
}

func scalar(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func newHostsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered hosts",
		Args:  cobra.NoArgs,
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
			hosts, err := store.ListHosts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list hosts: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hosts)
			}
			if len(hosts) == 0 {
				fmt.Fprintln(out, "No hosts registered")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDRESS\tPORT\tUSER\tLABELS")
			for _, h := range hosts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", h.Name, h.Address, h.Port, h.User, formatLabels(h.Labels))
			}
			return tw.Flush()
		},
	}

	return cmd
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

func newHostsRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a registered host",
		Args:    cobra.ExactArgs(1),
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
			if err := store.DeleteHost(ctx, args[0]); err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("host %s is not registered", args[0])
				}
				return fmt.Errorf("failed to remove host: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", args[0])
			return nil
		},
	}

	return cmd
}
