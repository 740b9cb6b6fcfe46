package main

import (
	"fmt"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/config"
	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
	"github.com/hanwenlu2016/ui-auto-new/internal/runner"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

// openStore opens the configured SQLite store.
func (a *app) openStore() (*store.SqlStore, error) {
	st, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newLauncher routes chromium to chromedp (or Playwright when configured)
// and firefox/webkit to Playwright. release stops the Playwright driver.
func (a *app) newLauncher() (l browser.Launcher, release func()) {
	c := a.cfg.Browser
	pw := &browser.PlaywrightLauncher{ActionTimeout: c.ActionTimeout, Install: c.InstallDrivers}
	var chromium browser.Launcher = pw
	if c.ChromiumDriver != config.DriverPlaywright {
		chromium = &browser.ChromeLauncher{ExecPath: c.ExecPath, ActionTimeout: c.ActionTimeout}
	}
	r := browser.Router{
		config.BrowserChromium: chromium,
		config.BrowserFirefox:  pw,
		config.BrowserWebkit:   pw,
	}
	return r, func() {
		if err := pw.Close(); err != nil {
			logging.New("browser").Warn("stop playwright driver", "error", err)
		}
	}
}

// newEngine builds the one Engine the process uses. Call release once the
// engine is no longer used.
func (a *app) newEngine(st store.Store) (*engine.Engine, func()) {
	c := a.cfg
	launcher, release := a.newLauncher()
	return engine.New(engine.Deps{
		Store:      st,
		Launcher:   launcher,
		Renderer:   report.AllureCLI{Binary: c.AllureBinary, Timeout: c.RenderTimeout},
		ResultsDir: c.ResultsDir,
		ReportsDir: c.ReportsDir,
		Policy: runner.Policy{
			AutoNavigate:      c.Runner.AutoNavigate,
			SettleDelay:       c.Runner.SettleDelay,
			ContinueOnFailure: c.Runner.ContinueOnFailure,
		},
		MaxParallel: c.SuiteParallelism,
		Defaults:    browser.Options{BrowserType: c.Browser.Type, Headless: c.Browser.Headless},
	}), release
}

// newReports builds a report builder without a browser, for listing and
// deletion.
func (a *app) newReports(st store.Store) *report.Builder {
	return report.NewBuilder(st, report.AllureCLI{Binary: a.cfg.AllureBinary, Timeout: a.cfg.RenderTimeout}, a.cfg.ReportsDir)
}
