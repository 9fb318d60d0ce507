package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nora/internal/ui"
)

func newConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
	}

	show := &cobra.Command{
		Use:   "show [key]",
		Short: "Print the effective configuration, or one dot-path key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				v, ok := o.conf.Get(args[0])
				if !ok {
					return fmt.Errorf("no such key: %s", args[0])
				}
				fmt.Fprintln(out, v)
				return nil
			}
			data, err := yaml.Marshal(o.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ui.Muted("# "+o.conf.Path()))
			fmt.Fprint(out, string(data))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: `Set a dot-path key such as ollama.url ("null" deletes it)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.conf.Set(args[0], args[1]); err != nil {
				return err
			}
			if args[1] == "null" {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("deleted %s", args[0]))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("%s = %s", args[0], args[1]))
			}
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use [profile]",
		Short: "Switch to a server profile, or list profiles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				profiles := o.conf.Profiles()
				if len(profiles) == 0 {
					fmt.Fprintln(out, ui.Muted("No profiles configured."))
				}
				for _, p := range profiles {
					fmt.Fprintln(out, p)
				}
				return nil
			}
			if err := o.conf.UseProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(out, ui.Success("using profile %s", args[0]))
			return nil
		},
	}

	test := &cobra.Command{
		Use:   "test",
		Short: "Check the configured model server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			v, err := o.conf.TestConnection(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Success("connected to %s (version %s)", o.cfg.Ollama.URL, v))
			return nil
		},
	}

	cmd.AddCommand(show, set, use, test)
	return cmd
}

func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models served by the configured server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			models, err := a.router.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, len(models))
			for i, m := range models {
				mark := ""
				if m.Name == o.model || m.ID == o.model {
					mark = "*"
				}
				rows[i] = []string{mark, m.Name, m.Provider}
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.Table([]string{"", "MODEL", "PROVIDER"}, rows))
			return nil
		},
	}
}
