package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/fixture"
)

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture-file>",
		Short: "Load projects, elements, cases and suites from a YAML/JSON fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := fixture.LoadFromPath(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := fixture.Seed(cmd.Context(), st, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range f.Projects {
				for _, m := range p.Modules {
					for _, c := range m.Cases {
						fmt.Fprintf(out, "case  %-6d %s\n", ids.Cases[c.Name], c.Name)
					}
				}
			}
			for _, s := range f.Suites {
				fmt.Fprintf(out, "suite %-6d %s\n", ids.Suites[s.Name], s.Name)
			}
			return nil
		},
	}
}
