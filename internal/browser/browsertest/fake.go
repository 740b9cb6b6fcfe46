// Package browsertest provides a scripted in-memory browser for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
)

// PNG is the payload every fake screenshot returns.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Script configures fake sessions. Keys are selector values.
type Script struct {
	Texts          map[string]string
	Missing        map[string]bool
	FailNavigate   map[string]error
	FailScreenshot bool
	PanicOn        string // action name, or "screenshot", that panics
}

// Session is a fake browser.Session that records its calls.
type Session struct {
	script *Script

	mu     sync.Mutex
	calls  []string
	slept  time.Duration
	closed bool
}

// NewSession returns a session driven by script (nil means all-succeed).
func NewSession(script *Script) *Session {
	if script == nil {
		script = &Script{}
	}
	return &Session{script: script}
}

func (s *Session) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// Calls returns the recorded call log.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Slept is the total duration passed to Sleep.
func (s *Session) Slept() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slept
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) maybePanic(action string) {
	if s.script.PanicOn == action {
		panic("fake " + action + " exploded")
	}
}

func (s *Session) lookup(sel browser.Selector) error {
	if s.script.Missing[sel.Value] {
		return fmt.Errorf("waiting for selector %q: %w", sel.Value, context.DeadlineExceeded)
	}
	return nil
}

func (s *Session) Navigate(_ context.Context, url string) error {
	s.record("goto %s", url)
	s.maybePanic(browser.ActionGoto)
	if err := s.script.FailNavigate[url]; err != nil {
		return err
	}
	return nil
}

func (s *Session) Click(_ context.Context, sel browser.Selector) error {
	s.record("click %s", sel.Value)
	s.maybePanic(browser.ActionClick)
	return s.lookup(sel)
}

func (s *Session) Fill(_ context.Context, sel browser.Selector, value string) error {
	s.record("fill %s=%s", sel.Value, value)
	s.maybePanic(browser.ActionFill)
	return s.lookup(sel)
}

func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	s.record("wait %s", d)
	s.mu.Lock()
	s.slept += d
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Session) Text(_ context.Context, sel browser.Selector) (string, error) {
	s.record("text %s", sel.Value)
	s.maybePanic(browser.ActionTextContent)
	if err := s.lookup(sel); err != nil {
		return "", err
	}
	return s.script.Texts[sel.Value], nil
}

func (s *Session) Screenshot(context.Context) ([]byte, error) {
	s.maybePanic("screenshot")
	if s.script.FailScreenshot {
		return nil, errors.New("capture failed")
	}
	return append([]byte(nil), PNG...), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Launcher hands out fake sessions and counts them.
type Launcher struct {
	Script *Script
	Err    error

	launched atomic.Int64
	mu       sync.Mutex
	sessions []*Session
	options  []browser.Options
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(_ context.Context, opts browser.Options) (browser.Session, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.launched.Add(1)
	s := NewSession(l.Script)
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.options = append(l.options, opts)
	l.mu.Unlock()
	return s, nil
}

// Launched is the number of sessions started.
func (l *Launcher) Launched() int { return int(l.launched.Load()) }

// Sessions returns every session started so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Options returns the options of every launch, in order.
func (l *Launcher) Options() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.Options(nil), l.options...)
}

// AllClosed reports whether every launched session was closed.
func (l *Launcher) AllClosed() bool {
	for _, s := range l.Sessions() {
		if !s.Closed() {
			return false
		}
	}
	return true
}
