// Package runner executes one test case: it resolves the case and its
// elements through an isolated store handle, drives a browser session step
// by step, and records the outcome as Allure results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hanwenlu2016/ui-auto-new/internal/allure"
	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/metrics"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

// MsgCaseNotFound is the result error for an unknown case id.
const MsgCaseNotFound = "Test case not found"

// Policy controls how a case is executed.
type Policy struct {
	// AutoNavigate opens the project's base URL before step 0 when one is set.
	AutoNavigate bool
	// SettleDelay is waited after auto-navigation.
	SettleDelay time.Duration
	// ContinueOnFailure keeps executing after a failed step. Off means fail-fast.
	ContinueOnFailure bool
}

// DefaultPolicy is fail-fast with auto-navigation and a 1s settle delay.
func DefaultPolicy() Policy {
	return Policy{AutoNavigate: true, SettleDelay: time.Second}
}

// Recorder receives a run's attachments and its final result.
// *allure.Dir satisfies it.
type Recorder interface {
	AddAttachment(name, mimeType string, data []byte) (allure.Attachment, error)
	WriteResult(r *allure.Result) error
}

// HandleSource hands out isolated store handles. store.Store satisfies it.
type HandleSource interface {
	Acquire(ctx context.Context) (store.Handle, error)
}

// Request is one case run.
type Request struct {
	CaseID   int64
	Options  browser.Options
	Recorder Recorder
	// Labels are appended to the Allure result (e.g. the parent suite).
	Labels []allure.Label
}

// CaseResult is the outcome of one case run.
type CaseResult struct {
	RunID      string               `json:"run_id,omitempty"`
	CaseID     int64                `json:"case_id"`
	CaseName   string               `json:"case_name,omitempty"`
	Success    bool                 `json:"success"`
	Steps      []browser.StepResult `json:"steps"`
	Error      string               `json:"error,omitempty"`
	Screenshot []byte               `json:"screenshot,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	DurationMS int64                `json:"duration_ms"`

	// Executed is false when the run stopped before a browser was launched.
	Executed bool `json:"-"`
}

// Runner executes cases. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	handles  HandleSource
	launcher browser.Launcher
	policy   Policy
	log      *slog.Logger
}

// New returns a Runner.
func New(handles HandleSource, launcher browser.Launcher, policy Policy) *Runner {
	return &Runner{
		handles:  handles,
		launcher: launcher,
		policy:   policy,
		log:      logging.New("runner"),
	}
}

// Policy returns the runner's execution policy.
func (r *Runner) Policy() Policy { return r.policy }

// Run executes one case. Step failures are reported in the result; the
// returned error is reserved for infrastructure failures (store or browser
// unavailable).
func (r *Runner) Run(ctx context.Context, req Request) (*CaseResult, error) {
	h, err := r.handles.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire store handle: %w", err)
	}
	c, err := h.GetCase(ctx, req.CaseID)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("load case %d: %w", req.CaseID, err)
	}
	if c == nil {
		_ = h.Close()
		r.log.Warn("case not found", "case_id", req.CaseID)
		return &CaseResult{CaseID: req.CaseID, Steps: []browser.StepResult{}, Error: MsgCaseNotFound}, nil
	}

	ec, err := newExecutionContext(ctx, h, r.launcher, req.Options)
	if err != nil {
		metrics.RecordCaseError()
		return nil, err
	}
	defer func() {
		if err := ec.Close(); err != nil {
			r.log.Warn("release execution context", "case_id", c.ID, "error", err)
		}
	}()

	res := &CaseResult{
		RunID:     uuid.NewString(),
		CaseID:    c.ID,
		CaseName:  c.Name,
		Steps:     []browser.StepResult{},
		StartedAt: time.Now(),
		Executed:  true,
	}
	log := r.log.With("case_id", c.ID, "run_id", res.RunID)
	log.Info("case started", "steps", len(c.Steps), "browser", req.Options.BrowserType, "headless", req.Options.Headless)

	t := &trail{rec: req.Recorder, log: log}
	panicked := r.execute(ctx, ec, c, res, t)

	if !res.Success {
		if png, err := safeScreenshot(ctx, ec.Session); err != nil {
			log.Warn("terminal screenshot failed", "error", err)
		} else {
			res.Screenshot = png
			t.attachTerminal(png)
		}
	}
	stop := time.Now()
	res.DurationMS = stop.Sub(res.StartedAt).Milliseconds()

	t.writeResult(c, res, req, stop, panicked)
	metrics.RecordCaseRun(res.Success, stop.Sub(res.StartedAt))
	if res.Success {
		log.Info("case passed", "duration_ms", res.DurationMS)
	} else {
		log.Info("case failed", "duration_ms", res.DurationMS, "error", res.Error)
	}
	return res, nil
}

// execute runs the step state machine. A panic anywhere in it is recovered
// into the run error and reported back as panicked.
func (r *Runner) execute(ctx context.Context, ec *ExecutionContext, c *store.Case, res *CaseResult, t *trail) (panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			res.Success = false
			res.Error = fmt.Sprintf("step execution panicked: %v", p)
			t.log.Error("step execution panicked", "panic", p)
		}
	}()

	if r.policy.AutoNavigate && c.BaseURL != "" {
		start := time.Now()
		sr := ec.Actions.Execute(ctx, browser.Request{Action: browser.ActionGoto, Value: c.BaseURL})
		if sr.Success && r.policy.SettleDelay > 0 {
			if err := ec.Session.Sleep(ctx, r.policy.SettleDelay); err != nil {
				sr = browser.Failed(browser.ActionGoto, browser.KindActionError, fmt.Sprintf("settle after goto: %v", err))
			}
		}
		t.addStep("Open "+c.BaseURL, sr, start, nil)
		if !sr.Success {
			res.Error = "auto-navigate to base URL: " + sr.Error
			t.skip(c.Steps, 0)
			return false
		}
	}

	for i, step := range c.Steps {
		start := time.Now()
		sr := r.step(ctx, ec, step)
		res.Steps = append(res.Steps, sr)
		metrics.RecordStep(step.Action, sr.Success)

		name := fmt.Sprintf("Step %d: %s", i+1, step.Action)
		var shot []byte
		if png, err := ec.Session.Screenshot(ctx); err != nil {
			t.log.Warn("step screenshot failed", "step", i+1, "action", step.Action, "error", err)
		} else {
			shot = png
		}
		title := name
		if step.Description != "" {
			title += " - " + step.Description
		}
		t.addStep(title, sr, start, t.attach(name, shot))

		if sr.Success {
			t.log.Debug("step passed", "step", i+1, "action", step.Action)
			continue
		}
		t.log.Info("step failed", "step", i+1, "action", step.Action, "kind", sr.Kind, "error", sr.Error)
		if res.Error == "" {
			res.Error = sr.Error
		}
		if !r.policy.ContinueOnFailure {
			t.skip(c.Steps[i+1:], i+1)
			return false
		}
	}
	res.Success = res.Error == ""
	return false
}

// safeScreenshot captures the page, turning a driver panic into an error.
func safeScreenshot(ctx context.Context, s browser.Session) (png []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			png, err = nil, fmt.Errorf("screenshot panicked: %v", p)
		}
	}()
	return s.Screenshot(ctx)
}

// step resolves the step's element, if any, and executes it.
func (r *Runner) step(ctx context.Context, ec *ExecutionContext, step store.Step) browser.StepResult {
	req := browser.Request{Action: step.Action, Value: step.Value}
	if step.ElementID != nil && browser.NeedsElement(step.Action) {
		id := *step.ElementID
		el, err := ec.Handle.GetElement(ctx, id)
		if err != nil {
			return browser.Failed(step.Action, browser.KindActionError, fmt.Sprintf("resolve element %d: %v", id, err))
		}
		if el == nil {
			return browser.Failed(step.Action, browser.KindElementNotFound, fmt.Sprintf("Element %d not found", id))
		}
		req.Selector = &browser.Selector{Type: el.LocatorType, Value: el.LocatorValue}
	}
	return ec.Actions.Execute(ctx, req)
}

// ExecutionContext bundles the browser session and store handle owned by
// exactly one case run.
type ExecutionContext struct {
	Handle  store.Handle
	Session browser.Session
	Actions *browser.Actions
}

func newExecutionContext(ctx context.Context, h store.Handle, l browser.Launcher, opts browser.Options) (ec *ExecutionContext, err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = h.Close()
			ec, err = nil, fmt.Errorf("launch %s panicked: %v", opts.BrowserType, p)
		}
	}()
	s, err := l.Launch(ctx, opts)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("launch %s: %w", opts.BrowserType, err)
	}
	metrics.SessionOpened()
	return &ExecutionContext{Handle: h, Session: s, Actions: browser.NewActions(s)}, nil
}

// Close releases the session and the handle. Both are always attempted.
func (ec *ExecutionContext) Close() error {
	metrics.SessionClosed()
	return errors.Join(ec.Session.Close(), ec.Handle.Close())
}

// trail accumulates the Allure view of a run. A nil recorder turns it into
// a no-op.
type trail struct {
	rec      Recorder
	log      *slog.Logger
	steps    []allure.Step
	terminal []allure.Attachment
}

func (t *trail) attach(name string, png []byte) []allure.Attachment {
	if t.rec == nil || png == nil {
		return nil
	}
	att, err := t.rec.AddAttachment(name, allure.MimePNG, png)
	if err != nil {
		t.log.Warn("store attachment", "name", name, "error", err)
		return nil
	}
	return []allure.Attachment{att}
}

func (t *trail) attachTerminal(png []byte) {
	t.terminal = append(t.terminal, t.attach("Screenshot", png)...)
}

func (t *trail) addStep(name string, sr browser.StepResult, start time.Time, atts []allure.Attachment) {
	st := allure.Step{
		Name:        name,
		Status:      allure.StatusPassed,
		Stage:       allure.StageFinished,
		Attachments: atts,
		Start:       allure.Millis(start),
		Stop:        allure.Millis(time.Now()),
	}
	if !sr.Success {
		st.Status = allure.StatusFailed
		st.StatusDetails = &allure.StatusDetail{Message: sr.Error}
	}
	if sr.Output != "" {
		st.Parameters = []allure.Parameter{{Name: "output", Value: sr.Output}}
	}
	t.steps = append(t.steps, st)
}

// skip records steps that fail-fast left unexecuted. They never reach the
// run's step results.
func (t *trail) skip(steps []store.Step, offset int) {
	now := allure.Millis(time.Now())
	for i, s := range steps {
		t.steps = append(t.steps, allure.Step{
			Name:   fmt.Sprintf("Step %d: %s", offset+i+1, s.Action),
			Status: allure.StatusSkipped,
			Stage:  allure.StageFinished,
			Start:  now,
			Stop:   now,
		})
	}
}

func (t *trail) writeResult(c *store.Case, res *CaseResult, req Request, stop time.Time, panicked bool) {
	if t.rec == nil {
		return
	}
	status := allure.StatusPassed
	var details *allure.StatusDetail
	switch {
	case panicked:
		status = allure.StatusBroken
		details = &allure.StatusDetail{Message: res.Error}
	case !res.Success:
		status = allure.StatusFailed
		details = &allure.StatusDetail{Message: res.Error}
	}
	id := strconv.FormatInt(c.ID, 10)
	ar := &allure.Result{
		UUID:          res.RunID,
		TestCaseID:    id,
		HistoryID:     "TestCase_" + id,
		Name:          c.Name,
		FullName:      fmt.Sprintf("TestCase_%d_%s", c.ID, c.Name),
		Status:        status,
		StatusDetails: details,
		Stage:         allure.StageFinished,
		Steps:         t.steps,
		Start:         allure.Millis(res.StartedAt),
		Stop:          allure.Millis(stop),
		Parameters: []allure.Parameter{
			{Name: "browser_type", Value: req.Options.BrowserType},
			{Name: "headless", Value: strconv.FormatBool(req.Options.Headless)},
		},
		Labels: append([]allure.Label{
			{Name: "feature", Value: "UI Automation"},
			{Name: "story", Value: c.Name},
		}, req.Labels...),
		Attachments: t.terminal,
	}
	if err := t.rec.WriteResult(ar); err != nil {
		t.log.Warn("write allure result", "error", err)
	}
}
