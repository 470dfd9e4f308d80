package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/saorsa-labs/saorsa-deploy/internal/core"
	gssh "github.com/saorsa-labs/saorsa-deploy/internal/ssh"
)

// Infrastructure management (stub)
func newInfraCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infra",
		Short: "Manage testnet infrastructure",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "infra command not yet implemented")
			return nil
		},
	}
}

// Inspect and remove deployment state
func newStateCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect deployment state documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print a deployment's state document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			doc, err := e.states.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, string(b))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List deployments with stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			names, err := e.states.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(e.out, n)
			}
			return nil
		},
	})

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a deployment's state document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return errors.New("refusing to delete deployment state without --force")
			}
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.states.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "deleted state for %s\n", args[0])
			return nil
		},
	}
	del.Flags().Bool("force", false, "confirm deletion")
	cmd.AddCommand(del)
	return cmd
}

// Remove stale host keys
func newClearKnownHostsCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-known-hosts IP...",
		Short: "Remove known_hosts entries for recycled VM addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			runner := d.Runner
			if runner == nil {
				runner = gssh.ExecRunner{}
			}
			gssh.ClearKnownHosts(cmd.Context(), cfg.SSH.KnownHosts, args, runner, cmd.OutOrStdout())
			return nil
		},
	}
}

// Show recorded provisioning runs
func newHistoryCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past provisioning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			limit, _ := cmd.Flags().GetInt("limit")
			e, err := d.resolve(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			if e.history == nil {
				return errors.New("run history is unavailable")
			}
			runs, err := e.history.ListRuns(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(e.out, "no runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.StartedAt.Local().Format(time.DateTime),
					r.Deployment,
					r.Kind,
					string(r.Status),
					fmt.Sprintf("%d/%d", r.HostsTotal-len(r.FailedHosts), r.HostsTotal),
					strconv.Itoa(r.NodesPerHost),
					r.Duration.Round(time.Second).String(),
					strings.Join(r.FailedHosts, " "),
				})
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("Started", "Deployment", "Kind", "Status", "Hosts", "Nodes/host", "Duration", "Failed").
				Rows(rows...)
			fmt.Fprintln(e.out, t.String())
			return nil
		},
	}
	cmd.Flags().String("name", "", "only runs for this deployment")
	cmd.Flags().Int("limit", 20, "maximum runs to show (0 for all)")
	return cmd
}
