// Package browser is the action adapter: it translates abstract test steps
// into calls on a live browser Session and reports each outcome as a
// StepResult. Failures never cross the package boundary as errors.
package browser

import (
	"context"
	"errors"
	"time"
)

// Step actions.
const (
	ActionGoto        = "goto"
	ActionClick       = "click"
	ActionFill        = "fill"
	ActionWait        = "wait"
	ActionTextContent = "text_content"
	ActionAssertText  = "assert_text"
)

// NeedsElement reports whether action operates on a resolved element.
func NeedsElement(action string) bool {
	switch action {
	case ActionClick, ActionFill, ActionTextContent, ActionAssertText:
		return true
	}
	return false
}

// ErrorKind classifies a failed step.
type ErrorKind string

const (
	KindMissingArgument   ErrorKind = "MissingArgument"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindElementNotFound   ErrorKind = "ElementNotFound"
	KindActionError       ErrorKind = "ActionError"
	KindAssertionMismatch ErrorKind = "AssertionMismatch"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Action  string    `json:"action"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Output  string    `json:"output,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(action string, kind ErrorKind, msg string) StepResult {
	return StepResult{Action: action, Error: msg, Kind: kind}
}

// Locator types.
const (
	LocatorCSS   = "css"
	LocatorXPath = "xpath"
	LocatorID    = "id"
	LocatorName  = "name"
	LocatorText  = "text"
)

// Selector is a concrete element locator.
type Selector struct {
	Type  string
	Value string
}

// Options selects the browser for one session.
type Options struct {
	BrowserType string `json:"browser_type"`
	Headless    bool   `json:"headless"`
}

// ErrUnsupportedBrowser is returned by launchers that cannot drive the
// requested browser type.
var ErrUnsupportedBrowser = errors.New("unsupported browser type")

// Session is one live browser page. Implementations need not be safe for
// concurrent use; a session belongs to exactly one case run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel Selector) error
	Fill(ctx context.Context, sel Selector, value string) error
	Sleep(ctx context.Context, d time.Duration) error
	Text(ctx context.Context, sel Selector) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, opts Options) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, opts Options) (Session, error) {
	return f(ctx, opts)
}
