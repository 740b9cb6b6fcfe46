package browser

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Request is one step with its element already resolved.
type Request struct {
	Action   string
	Selector *Selector
	Value    string
}

// Actions executes steps against a single session.
type Actions struct {
	session Session
}

// NewActions binds the capability set to s.
func NewActions(s Session) *Actions {
	return &Actions{session: s}
}

// Execute performs req and returns its outcome. It does not return errors
// or panic; a panicking session is reported as an ActionError.
func (a *Actions) Execute(ctx context.Context, req Request) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(req.Action, KindActionError, fmt.Sprintf("%s panicked: %v", req.Action, r))
		}
	}()

	switch req.Action {
	case ActionGoto:
		return a.gotoURL(ctx, req)
	case ActionClick:
		return a.click(ctx, req)
	case ActionFill:
		return a.fill(ctx, req)
	case ActionWait:
		return a.wait(ctx, req)
	case ActionTextContent:
		return a.textContent(ctx, req)
	case ActionAssertText:
		return a.assertText(ctx, req)
	}
	return Failed(req.Action, KindInvalidArgument, fmt.Sprintf("Unknown action: %q", req.Action))
}

func (a *Actions) gotoURL(ctx context.Context, req Request) StepResult {
	if req.Value == "" {
		return Failed(req.Action, KindMissingArgument, "URL is required for goto action")
	}
	if err := a.session.Navigate(ctx, req.Value); err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("goto %s: %v", req.Value, err))
	}
	return StepResult{Action: req.Action, Success: true}
}

func (a *Actions) click(ctx context.Context, req Request) StepResult {
	if req.Selector == nil {
		return Failed(req.Action, KindMissingArgument, "Element is required for click action")
	}
	if err := a.session.Click(ctx, *req.Selector); err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("click %s: %v", req.Selector.Value, err))
	}
	return StepResult{Action: req.Action, Success: true}
}

func (a *Actions) fill(ctx context.Context, req Request) StepResult {
	if req.Selector == nil {
		return Failed(req.Action, KindMissingArgument, "Element is required for fill action")
	}
	if req.Value == "" {
		return Failed(req.Action, KindMissingArgument, "Value is required for fill action")
	}
	if err := a.session.Fill(ctx, *req.Selector, req.Value); err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("fill %s: %v", req.Selector.Value, err))
	}
	return StepResult{Action: req.Action, Success: true}
}

func (a *Actions) wait(ctx context.Context, req Request) StepResult {
	d, err := ParseWait(req.Value)
	if err != nil {
		return Failed(req.Action, KindInvalidArgument, err.Error())
	}
	if err := a.session.Sleep(ctx, d); err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("wait: %v", err))
	}
	return StepResult{Action: req.Action, Success: true}
}

func (a *Actions) textContent(ctx context.Context, req Request) StepResult {
	if req.Selector == nil {
		return Failed(req.Action, KindMissingArgument, "Element is required for text_content action")
	}
	text, err := a.session.Text(ctx, *req.Selector)
	if err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("text_content %s: %v", req.Selector.Value, err))
	}
	return StepResult{Action: req.Action, Success: true, Output: text}
}

func (a *Actions) assertText(ctx context.Context, req Request) StepResult {
	if req.Selector == nil {
		return Failed(req.Action, KindMissingArgument, "Element is required for assert_text action")
	}
	if req.Value == "" {
		return Failed(req.Action, KindMissingArgument, "Expected text is required for assert_text action")
	}
	actual, err := a.session.Text(ctx, *req.Selector)
	if err != nil {
		return Failed(req.Action, KindActionError, fmt.Sprintf("assert_text %s: %v", req.Selector.Value, err))
	}
	if normalizeSpace(actual) != normalizeSpace(req.Value) {
		res := Failed(req.Action, KindAssertionMismatch,
			fmt.Sprintf("Text mismatch: expected %q, got %q", req.Value, actual))
		res.Output = actual
		return res
	}
	return StepResult{Action: req.Action, Success: true, Output: actual}
}

// maxWaitSeconds is the first value whose nanosecond count no longer fits
// a time.Duration.
const maxWaitSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseWait converts a wait step value in seconds to a duration.
func ParseWait(v string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("invalid wait value %q: want a number of seconds", v)
	}
	if secs < 0 {
		return 0, fmt.Errorf("invalid wait value %q: must not be negative", v)
	}
	if secs >= maxWaitSeconds {
		return 0, fmt.Errorf("invalid wait value %q: longer than %s", v, time.Duration(math.MaxInt64))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
