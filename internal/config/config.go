// Package config loads engine settings from a YAML file, an optional .env
// file, and UIAUTO_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "UIAUTO_"

// Browser types accepted in run options.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebkit   = "webkit"
)

// Drivers for chromium. Firefox and webkit always go through Playwright.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Config is the full engine configuration.
type Config struct {
	DBPath           string        `yaml:"db_path"`
	ResultsDir       string        `yaml:"results_dir"`
	ReportsDir       string        `yaml:"reports_dir"`
	AllureBinary     string        `yaml:"allure_binary"`
	RenderTimeout    time.Duration `yaml:"render_timeout"`
	SuiteParallelism int           `yaml:"suite_parallelism"`
	RedisURL         string        `yaml:"redis_url"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Browser          Browser       `yaml:"browser"`
	Runner           Runner        `yaml:"runner"`
	Log              Log           `yaml:"log"`
}

// Browser holds the defaults applied when a run request omits its options.
// ChromiumDriver picks chromedp (default) or playwright for chromium;
// InstallDrivers downloads the Playwright driver and browsers on first use.
type Browser struct {
	Type           string        `yaml:"type"`
	Headless       bool          `yaml:"headless"`
	ExecPath       string        `yaml:"exec_path"`
	ActionTimeout  time.Duration `yaml:"action_timeout"`
	ChromiumDriver string        `yaml:"chromium_driver"`
	InstallDrivers bool          `yaml:"install_drivers"`
}

// Runner holds the case execution policy.
type Runner struct {
	AutoNavigate      bool          `yaml:"auto_navigate"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ContinueOnFailure bool          `yaml:"continue_on_failure"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:        ".uiauto/uiauto.db",
		ResultsDir:    "allure-results",
		ReportsDir:    "allure-reports",
		AllureBinary:  "allure",
		RenderTimeout: 30 * time.Second,
		Browser: Browser{
			Type:           BrowserChromium,
			Headless:       true,
			ActionTimeout:  30 * time.Second,
			ChromiumDriver: DriverChromedp,
		},
		Runner: Runner{
			AutoNavigate: true,
			SettleDelay:  time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or missing), envFile (skipped when missing) and the process
// environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
			}
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	if !ValidBrowser(c.Browser.Type) {
		return fmt.Errorf("browser.type %q: want chromium, firefox or webkit", c.Browser.Type)
	}
	switch c.Browser.ChromiumDriver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.chromium_driver %q: want chromedp or playwright", c.Browser.ChromiumDriver)
	}
	if c.SuiteParallelism < 0 {
		return fmt.Errorf("suite_parallelism must be >= 0, got %d", c.SuiteParallelism)
	}
	if c.ResultsDir == "" || c.ReportsDir == "" {
		return errors.New("results_dir and reports_dir are required")
	}
	return nil
}

// ValidBrowser reports whether t is one of the accepted browser types.
func ValidBrowser(t string) bool {
	switch t {
	case BrowserChromium, BrowserFirefox, BrowserWebkit:
		return true
	}
	return false
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("DB_PATH", &c.DBPath)
	str("RESULTS_DIR", &c.ResultsDir)
	str("REPORTS_DIR", &c.ReportsDir)
	str("ALLURE_BINARY", &c.AllureBinary)
	duration("RENDER_TIMEOUT", &c.RenderTimeout)
	str("REDIS_URL", &c.RedisURL)
	str("METRICS_ADDR", &c.MetricsAddr)
	if v, ok := lookup(EnvPrefix + "SUITE_PARALLELISM"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSUITE_PARALLELISM: %w", EnvPrefix, err))
		} else {
			c.SuiteParallelism = n
		}
	}

	str("BROWSER_TYPE", &c.Browser.Type)
	c.Browser.Type = strings.ToLower(c.Browser.Type)
	boolean("BROWSER_HEADLESS", &c.Browser.Headless)
	str("BROWSER_EXEC_PATH", &c.Browser.ExecPath)
	duration("ACTION_TIMEOUT", &c.Browser.ActionTimeout)
	str("CHROMIUM_DRIVER", &c.Browser.ChromiumDriver)
	c.Browser.ChromiumDriver = strings.ToLower(c.Browser.ChromiumDriver)
	boolean("INSTALL_DRIVERS", &c.Browser.InstallDrivers)

	boolean("AUTO_NAVIGATE", &c.Runner.AutoNavigate)
	duration("SETTLE_DELAY", &c.Runner.SettleDelay)
	boolean("CONTINUE_ON_FAILURE", &c.Runner.ContinueOnFailure)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}
