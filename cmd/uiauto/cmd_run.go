package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/format"
)

type runFlags struct {
	browser    string
	headless   bool
	reportName string
	executorID int64
	output     string
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test case or suite synchronously",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.browser, "browser", "", "browser type: chromium, firefox, webkit (default from config)")
	pf.BoolVar(&f.headless, "headless", true, "run without a visible window (default from config)")
	pf.StringVar(&f.reportName, "report-name", "", "explicit report name; a timestamp is appended")
	pf.Int64Var(&f.executorID, "executor-id", 0, "user id recorded on the report")
	pf.StringVarP(&f.output, "output", "o", "table", "output: table, markdown or json")

	options := func(cmd *cobra.Command) engine.RunOptions {
		opts := engine.RunOptions{BrowserType: f.browser, ReportName: f.reportName}
		if cmd.Flags().Changed("headless") {
			h := f.headless
			opts.Headless = &h
		}
		return opts
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "case <case-id>",
		Short: "Run one test case and build its report",
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

			eng, release := a.newEngine(st)
			defer release()

			res, err := eng.RunCase(cmd.Context(), id, options(cmd), f.executorID)
			if err != nil {
				return err
			}
			if err := emit(cmd.OutOrStdout(), f.output, res, func(m format.Mode) string { return format.CaseRun(m, res) }); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("case %d failed", id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "suite <suite-id>",
		Short: "Run every case of a suite concurrently and build one report",
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

			eng, release := a.newEngine(st)
			defer release()

			res, err := eng.RunSuite(cmd.Context(), id, options(cmd), f.executorID)
			if err != nil {
				return err
			}
			if err := emit(cmd.OutOrStdout(), f.output, res, func(m format.Mode) string { return format.SuiteRun(m, res) }); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("suite %d failed", id)
			}
			return nil
		},
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer, got %q", s)
	}
	return id, nil
}

// emit writes v as indented JSON, or the table text for table modes.
func emit(w io.Writer, output string, v any, table func(format.Mode) string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	m, err := format.ParseMode(output)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table(m))
	return err
}
