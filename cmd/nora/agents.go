package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/team"
	"github.com/nidhogg/nora/internal/ui"
)

func newAgentsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.agents.List()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("No agents registered."))
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{p.Name, p.Version, p.Kind, p.Description, p.Source})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"NAME", "VERSION", "KIND", "DESCRIPTION", "SOURCE"}, rows))
			return nil
		},
	}
}

func newAgentCmd(o *options) *cobra.Command {
	var seed []string
	cmd := &cobra.Command{
		Use:   "agent <name>",
		Short: "Run a single agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			values, err := parseSeed(seed)
			if err != nil {
				return err
			}
			a.router.SetStreamWriter(cmd.OutOrStdout())
			out, err := a.agents.Run(cmd.Context(), a.coord.Scheduler(), args[0], o.model, orchestrator.NewSharedContext(values))
			if err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("agent %s failed: %s", args[0], out.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success("agent %s completed", args[0]))
			if out.Output != nil && out.Output != "completed" {
				fmt.Fprintln(cmd.OutOrStdout(), out.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&seed, "set", nil, "seed the shared context with key=value")
	return cmd
}

func newTeamCmd(o *options) *cobra.Command {
	var (
		mode string
		seed []string
	)
	cmd := &cobra.Command{
		Use:   "team <file>",
		Short: "Run a team of agents from a YAML descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			values, err := parseSeed(seed)
			if err != nil {
				return err
			}
			_, plan, err := team.LoadPlan(args[0], a.agents, o.model, mode)
			if err != nil {
				return err
			}
			a.router.SetStreamWriter(cmd.OutOrStdout())
			report, err := a.coord.RunWithContext(cmd.Context(), plan, orchestrator.NewSharedContext(values))
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), ui.RunReport(report))
			}
			if err != nil {
				return err
			}
			if failed := report.Results.Failures(); len(failed) > 0 {
				o.logger.Warn("team finished with failures", zap.Strings("tasks", failed))
				return fmt.Errorf("%d task(s) failed: %s", len(failed), strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the descriptor's mode: sequential|parallel")
	cmd.Flags().StringArrayVar(&seed, "set", nil, "seed the shared context with key=value")
	return cmd
}

func parseSeed(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", p)
		}
		values[k] = v
	}
	return values, nil
}
