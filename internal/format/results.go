package format

import (
	"fmt"
	"strings"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/display"
	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
)

const errorWidth = 60

// Steps renders one row per executed step.
func Steps(m Mode, steps []browser.StepResult) string {
	tb := NewTable(m)
	tb.Header("#", "Action", "OK", "Output", "Error")
	for i, s := range steps {
		errText := s.Error
		if s.Kind != "" {
			errText = display.ErrorKind(string(s.Kind)) + ": " + s.Error
		}
		tb.Row(i+1, display.Action(s.Action), BoolMark(s.Success), Truncate(s.Output, 40), Truncate(errText, errorWidth))
	}
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight})
	return tb.String()
}

// CaseRun renders a case run: a summary line, the step table and report
// details.
func CaseRun(m Mode, r *engine.CaseRunResult) string {
	var b strings.Builder
	name := r.CaseName
	if name == "" {
		name = fmt.Sprintf("case %d", r.CaseID)
	}
	fmt.Fprintf(&b, "%s: %s (%s)\n", name, display.Outcome(r.Success), FmtMillis(r.DurationMS))
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	if len(r.Steps) > 0 {
		b.WriteString(Steps(m, r.Steps))
		b.WriteString("\n")
	}
	writeReport(&b, r.ReportID, r.ReportPath, r.ReportError)
	return b.String()
}

// SuiteRun renders the per-member outcome of a suite run with totals.
func SuiteRun(m Mode, r *engine.SuiteRunResult) string {
	var b strings.Builder
	name := r.SuiteName
	if name == "" {
		name = fmt.Sprintf("suite %d", r.SuiteID)
	}
	fmt.Fprintf(&b, "%s: %s\n", name, display.Outcome(r.Success))
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	if len(r.Results) > 0 {
		tb := NewTable(m)
		tb.Header("Case", "Name", "OK", "Steps", "Duration", "Error")
		for _, e := range r.Results {
			steps, dur := 0, "-"
			if e.Result != nil {
				steps, dur = len(e.Result.Steps), FmtMillis(e.Result.DurationMS)
			}
			tb.Row(e.CaseID, e.CaseName, BoolMark(e.Success), steps, dur, Truncate(e.Error, errorWidth))
		}
		tb.Footer("", "TOTAL", fmt.Sprintf("%d/%d", r.Passed, r.TotalCases), "", "", fmt.Sprintf("%d failed", r.Failed))
		tb.Columns(ColumnConfig{Number: 1, Align: AlignRight}, ColumnConfig{Number: 4, Align: AlignRight})
		b.WriteString(tb.String())
		b.WriteString("\n")
	}
	writeReport(&b, r.ReportID, r.ReportPath, r.ReportError)
	return b.String()
}

func writeReport(b *strings.Builder, id int64, path, reportErr string) {
	if id != 0 {
		fmt.Fprintf(b, "Report #%d: %s\n", id, path)
	}
	if reportErr != "" {
		fmt.Fprintf(b, "Report error: %s\n", reportErr)
	}
}

// Reports renders a report listing.
func Reports(m Mode, views []report.View) string {
	tb := NewTable(m)
	tb.Header("ID", "Target", "Status", "Browser", "Created", "Location")
	for _, v := range views {
		target := "-"
		switch {
		case v.CaseID != 0:
			target = fmt.Sprintf("case %d", v.CaseID)
		case v.SuiteID != 0:
			target = fmt.Sprintf("suite %d", v.SuiteID)
		}
		loc := v.ReportURL
		if loc == "" {
			loc = v.ReportPath
		}
		tb.Row(v.ID, target, display.Status(v.Status), display.Browser(v.BrowserType, v.Headless), v.CreatedAt, Truncate(loc, errorWidth))
	}
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight})
	return tb.String()
}
