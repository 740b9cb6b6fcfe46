package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/format"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
)

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List or delete stored reports",
	}

	var offset, limit int
	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			views, err := a.newReports(st).List(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), output, views, func(m format.Mode) string { return format.Reports(m, views) })
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "reports to skip")
	list.Flags().IntVar(&limit, "limit", 100, "maximum reports to list")
	list.Flags().StringVarP(&output, "output", "o", "table", "output: table, markdown or json")

	del := &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete a report record and its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			err = a.newReports(st).Delete(cmd.Context(), id)
			var artifactErr *report.ArtifactDeletionError
			switch {
			case errors.As(err, &artifactErr):
				return fmt.Errorf("report %d kept: %w", id, err)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
