package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher drives chromium, firefox and webkit through one
// Playwright driver process, started on the first launch and stopped by
// Close.
type PlaywrightLauncher struct {
	ActionTimeout time.Duration
	WindowWidth   int
	WindowHeight  int
	// Install downloads the driver and its browsers before the first launch.
	Install bool

	mu sync.Mutex
	pw *playwright.Playwright
}

var _ Launcher = (*PlaywrightLauncher)(nil)

func (l *PlaywrightLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	switch opts.BrowserType {
	case "", "chromium", "firefox", "webkit":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBrowser, opts.BrowserType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := l.driver()
	if err != nil {
		return nil, err
	}
	var bt playwright.BrowserType
	switch opts.BrowserType {
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		bt = pw.Chromium
	}

	timeout := l.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Timeout:  playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", bt.Name(), err)
	}
	w, h := l.WindowWidth, l.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 800
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: w, Height: h},
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("new %s context: %w", bt.Name(), err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("new %s page: %w", bt.Name(), err)
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	return &playwrightSession{browser: b, page: page, timeout: timeout, done: make(chan struct{})}, nil
}

func (l *PlaywrightLauncher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return l.pw, nil
	}
	if l.Install {
		err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium", "firefox", "webkit"}})
		if err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Close stops the driver process if one was started.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type playwrightSession struct {
	browser playwright.Browser
	page    playwright.Page
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// timeoutMS is the action timeout in milliseconds, shortened to the
// caller's deadline.
func (s *playwrightSession) timeoutMS(ctx context.Context) *float64 {
	d := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (s *playwrightSession) locator(sel Selector) playwright.Locator {
	return s.page.Locator(pwSelector(sel)).First()
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{Timeout: s.timeoutMS(ctx)})
	return err
}

func (s *playwrightSession) Click(ctx context.Context, sel Selector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.locator(sel).Click(playwright.LocatorClickOptions{Timeout: s.timeoutMS(ctx)})
}

func (s *playwrightSession) Fill(ctx context.Context, sel Selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.locator(sel).Fill(value, playwright.LocatorFillOptions{Timeout: s.timeoutMS(ctx)})
}

func (s *playwrightSession) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *playwrightSession) Text(ctx context.Context, sel Selector) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.locator(sel).TextContent(playwright.LocatorTextContentOptions{Timeout: s.timeoutMS(ctx)})
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Screenshot(playwright.PageScreenshotOptions{Timeout: s.timeoutMS(ctx)})
}

// Close closes the browser with every context and page it owns.
func (s *playwrightSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.browser.Close()
	})
	return err
}

// pwSelector maps a locator onto a Playwright selector engine.
func pwSelector(sel Selector) string {
	switch strings.ToLower(sel.Type) {
	case LocatorXPath:
		return "xpath=" + sel.Value
	case LocatorID:
		return `css=[id="` + cssString(sel.Value) + `"]`
	case LocatorName:
		return `css=[name="` + cssString(sel.Value) + `"]`
	case LocatorText:
		// A quoted text selector matches the whole normalized text.
		return "text=" + strconv.Quote(strings.TrimSpace(sel.Value))
	default:
		return "css=" + sel.Value
	}
}

// Router dispatches each launch to the launcher registered for its browser
// type. An empty type means chromium.
type Router map[string]Launcher

var _ Launcher = Router(nil)

func (r Router) Launch(ctx context.Context, opts Options) (Session, error) {
	bt := opts.BrowserType
	if bt == "" {
		bt = "chromium"
	}
	l, ok := r[bt]
	if !ok || l == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBrowser, opts.BrowserType)
	}
	return l.Launch(ctx, opts)
}
