// Package engine is the execution engine entry point. It runs single cases
// and whole suites, fanning suite members out concurrently, and produces
// one report per run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hanwenlu2016/ui-auto-new/internal/allure"
	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/config"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/metrics"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
	"github.com/hanwenlu2016/ui-auto-new/internal/runner"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

// Precondition failures reported in the result error field.
const (
	MsgSuiteNotFound = "Test suite not found"
	MsgSuiteEmpty    = "Test suite has no test cases"
)

// Deps wires an Engine. Store, Launcher and Renderer are required.
type Deps struct {
	Store      store.Store
	Launcher   browser.Launcher
	Renderer   report.Renderer
	ResultsDir string
	ReportsDir string
	Policy     runner.Policy
	// MaxParallel caps concurrent cases per suite; 0 runs all at once.
	MaxParallel int
	// Defaults fill in options a request leaves out.
	Defaults browser.Options
}

// Engine runs cases and suites. Construct once and share.
type Engine struct {
	store       store.Store
	runner      *runner.Runner
	reports     *report.Builder
	resultsDir  string
	maxParallel int
	defaults    browser.Options
	log         *slog.Logger
}

// New builds an Engine from d.
func New(d Deps) *Engine {
	if d.Defaults.BrowserType == "" {
		d.Defaults.BrowserType = config.BrowserChromium
	}
	return &Engine{
		store:       d.Store,
		runner:      runner.New(d.Store, d.Launcher, d.Policy),
		reports:     report.NewBuilder(d.Store, d.Renderer, d.ReportsDir),
		resultsDir:  d.ResultsDir,
		maxParallel: d.MaxParallel,
		defaults:    d.Defaults,
		log:         logging.New("engine"),
	}
}

// Reports exposes the report builder for listing and deletion.
func (e *Engine) Reports() *report.Builder { return e.reports }

// RunOptions are the per-request execution options. Zero fields take the
// engine defaults.
type RunOptions struct {
	BrowserType string `json:"browser_type,omitempty"`
	Headless    *bool  `json:"headless,omitempty"`
	ReportName  string `json:"report_name,omitempty"`
}

func (e *Engine) resolve(opts RunOptions) (browser.Options, error) {
	out := e.defaults
	if opts.BrowserType != "" {
		out.BrowserType = opts.BrowserType
	}
	if opts.Headless != nil {
		out.Headless = *opts.Headless
	}
	if !config.ValidBrowser(out.BrowserType) {
		return out, fmt.Errorf("browser_type %q: want chromium, firefox or webkit", out.BrowserType)
	}
	return out, nil
}

// CaseRunResult is a case outcome plus its report.
type CaseRunResult struct {
	runner.CaseResult
	ReportID    int64  `json:"report_id,omitempty"`
	ReportPath  string `json:"report_path,omitempty"`
	ReportError string `json:"report_error,omitempty"`
}

// RunCase executes one case in an isolated results directory and reports
// on it. A failed case is a successful call; the error return is for
// invalid options and infrastructure failures.
func (e *Engine) RunCase(ctx context.Context, caseID int64, opts RunOptions, executorID int64) (*CaseRunResult, error) {
	bopts, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	dir, err := e.openResults("case_" + strconv.FormatInt(caseID, 10))
	if err != nil {
		return nil, err
	}
	e.writeEnvironment(dir, bopts)

	res, err := e.runner.Run(ctx, runner.Request{CaseID: caseID, Options: bopts, Recorder: dir})
	if err != nil {
		_ = os.RemoveAll(dir.Path())
		return nil, err
	}
	out := &CaseRunResult{CaseResult: *res}
	if !res.Executed {
		_ = os.RemoveAll(dir.Path())
		return out, nil
	}

	rep, err := e.reports.Build(ctx, report.Request{
		Name:         opts.ReportName,
		CaseID:       caseID,
		ExecutorID:   executorID,
		ResultsDir:   dir.Path(),
		Success:      res.Success,
		ErrorMessage: res.Error,
		Options:      bopts,
	})
	out.ReportID, out.ReportPath, out.ReportError = e.reportFields(rep, err)
	return out, nil
}

// CaseEntry is one member's outcome within a suite run.
type CaseEntry struct {
	CaseID   int64              `json:"case_id"`
	CaseName string             `json:"case_name"`
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
	Result   *runner.CaseResult `json:"result,omitempty"`
}

// SuiteRunResult aggregates a suite run. Passed+Failed == TotalCases ==
// len(Results), in member order.
type SuiteRunResult struct {
	Success     bool        `json:"success"`
	SuiteID     int64       `json:"suite_id"`
	SuiteName   string      `json:"suite_name,omitempty"`
	TotalCases  int         `json:"total_cases"`
	Passed      int         `json:"passed"`
	Failed      int         `json:"failed"`
	Results     []CaseEntry `json:"results"`
	Error       string      `json:"error,omitempty"`
	ReportID    int64       `json:"report_id,omitempty"`
	ReportPath  string      `json:"report_path,omitempty"`
	ReportError string      `json:"report_error,omitempty"`
}

// RunSuite runs every member of a suite concurrently, each in its own
// execution context, then builds one consolidated report named after the
// suite. Members are snapshotted once at the start.
func (e *Engine) RunSuite(ctx context.Context, suiteID int64, opts RunOptions, executorID int64) (*SuiteRunResult, error) {
	bopts, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	suite, err := e.store.GetSuite(ctx, suiteID)
	if err != nil {
		return nil, fmt.Errorf("load suite %d: %w", suiteID, err)
	}
	if suite == nil {
		e.log.Warn("suite not found", "suite_id", suiteID)
		return &SuiteRunResult{SuiteID: suiteID, Results: []CaseEntry{}, Error: MsgSuiteNotFound}, nil
	}
	if len(suite.Cases) == 0 {
		e.log.Warn("suite has no cases", "suite_id", suiteID)
		return &SuiteRunResult{SuiteID: suiteID, SuiteName: suite.Name, Results: []CaseEntry{}, Error: MsgSuiteEmpty}, nil
	}
	members := append([]store.CaseRef(nil), suite.Cases...)

	dir, err := e.openResults("suite_" + strconv.FormatInt(suiteID, 10))
	if err != nil {
		return nil, err
	}
	e.writeEnvironment(dir, bopts)

	log := e.log.With("suite_id", suiteID)
	log.Info("suite started", "cases", len(members), "max_parallel", e.maxParallel)

	labels := []allure.Label{
		{Name: "suite", Value: suite.Name},
		{Name: "parentSuite", Value: "Suite_" + strconv.FormatInt(suiteID, 10)},
	}
	entries := make([]CaseEntry, len(members))
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, m := range members {
		g.Go(func() error {
			entries[i] = e.runMember(ctx, m, bopts, dir, labels)
			return nil
		})
	}
	_ = g.Wait()

	out := &SuiteRunResult{
		SuiteID:    suiteID,
		SuiteName:  suite.Name,
		TotalCases: len(members),
		Results:    entries,
	}
	for _, en := range entries {
		if en.Success {
			out.Passed++
		} else {
			out.Failed++
		}
	}
	out.Success = out.Failed == 0
	metrics.RecordSuiteRun(out.Success)
	log.Info("suite finished", "passed", out.Passed, "failed", out.Failed)

	name := opts.ReportName
	if name == "" {
		name = suite.Name
	}
	var errMsg string
	if out.Failed > 0 {
		errMsg = fmt.Sprintf("%d of %d cases failed", out.Failed, out.TotalCases)
	}
	rep, err := e.reports.Build(ctx, report.Request{
		Name:         name,
		SuiteID:      suiteID,
		ExecutorID:   executorID,
		ResultsDir:   dir.Path(),
		Success:      out.Success,
		ErrorMessage: errMsg,
		Options:      bopts,
	})
	out.ReportID, out.ReportPath, out.ReportError = e.reportFields(rep, err)
	return out, nil
}

// runMember runs one suite member. Errors and panics become a failed entry
// so siblings are never affected.
func (e *Engine) runMember(ctx context.Context, m store.CaseRef, opts browser.Options, dir *allure.Dir, labels []allure.Label) (entry CaseEntry) {
	entry = CaseEntry{CaseID: m.ID, CaseName: m.Name}
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("case run panicked", "case_id", m.ID, "panic", p)
			entry.Success = false
			entry.Error = fmt.Sprintf("case run panicked: %v", p)
		}
	}()

	res, err := e.runner.Run(ctx, runner.Request{CaseID: m.ID, Options: opts, Recorder: dir, Labels: labels})
	if err != nil {
		e.log.Error("case run failed", "case_id", m.ID, "error", err)
		entry.Error = err.Error()
		return entry
	}
	if res.CaseName != "" {
		entry.CaseName = res.CaseName
	}
	entry.Success = res.Success
	entry.Error = res.Error
	entry.Result = res
	return entry
}

func (e *Engine) openResults(prefix string) (*allure.Dir, error) {
	dir, err := allure.Open(filepath.Join(e.resultsDir, prefix+"_"+uuid.NewString()))
	if err != nil {
		return nil, err
	}
	return dir, nil
}

func (e *Engine) writeEnvironment(dir *allure.Dir, opts browser.Options) {
	err := dir.WriteEnvironment(map[string]string{
		"Browser":  opts.BrowserType,
		"Headless": strconv.FormatBool(opts.Headless),
	})
	if err != nil {
		e.log.Warn("write allure environment", "error", err)
	}
}

// reportFields keeps the report outcome apart from the test outcome.
func (e *Engine) reportFields(rep *store.Report, err error) (int64, string, string) {
	if err != nil {
		e.log.Error("build report", "error", err)
		return 0, "", err.Error()
	}
	if report.Degraded(rep.Path) {
		return rep.ID, rep.Path, rep.Path
	}
	return rep.ID, rep.Path, ""
}
