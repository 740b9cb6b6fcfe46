package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// DefaultActionTimeout bounds every driver call unless overridden.
const DefaultActionTimeout = 30 * time.Second

// ChromeLauncher starts headless or headed Chromium through the DevTools
// protocol. Only "chromium" (or an empty type) can be driven.
type ChromeLauncher struct {
	ExecPath      string
	ActionTimeout time.Duration
	WindowWidth   int
	WindowHeight  int
}

var _ Launcher = (*ChromeLauncher)(nil)

func (l *ChromeLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	switch opts.BrowserType {
	case "", "chromium":
	case "firefox", "webkit":
		return nil, fmt.Errorf("%w: %s (only chromium is driven over CDP)", ErrUnsupportedBrowser, opts.BrowserType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBrowser, opts.BrowserType)
	}

	w, h := l.WindowWidth, l.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 800
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(w, h),
	)
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// An empty Run starts the browser and opens the first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chromium: %w", err)
	}

	timeout := l.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &chromeSession{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		timeout:     timeout,
	}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
}

// run executes actions on the session's tab, bounded by the action timeout
// and by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Click(ctx context.Context, sel Selector) error {
	q, opts := query(sel)
	return s.run(ctx, chromedp.Click(q, append(opts, chromedp.NodeVisible)...))
}

func (s *chromeSession) Fill(ctx context.Context, sel Selector, value string) error {
	q, opts := query(sel)
	return s.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.Clear(q, opts...),
		chromedp.SendKeys(q, value, opts...),
	)
}

func (s *chromeSession) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *chromeSession) Text(ctx context.Context, sel Selector) (string, error) {
	q, opts := query(sel)
	var text string
	err := s.run(ctx, chromedp.TextContent(q, &text, append(opts, chromedp.NodeReady)...))
	return text, err
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	return buf, err
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	return err
}

// query maps a locator onto a chromedp selector and query options.
func query(sel Selector) (string, []chromedp.QueryOption) {
	switch strings.ToLower(sel.Type) {
	case LocatorXPath:
		return sel.Value, []chromedp.QueryOption{chromedp.BySearch}
	case LocatorID:
		return `[id="` + cssString(sel.Value) + `"]`, []chromedp.QueryOption{chromedp.ByQuery}
	case LocatorName:
		return `[name="` + cssString(sel.Value) + `"]`, []chromedp.QueryOption{chromedp.ByQuery}
	case LocatorText:
		return "//*[normalize-space(text())=" + xpathLiteral(strings.TrimSpace(sel.Value)) + "]",
			[]chromedp.QueryOption{chromedp.BySearch}
	default:
		return sel.Value, []chromedp.QueryOption{chromedp.ByQuery}
	}
}

func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
