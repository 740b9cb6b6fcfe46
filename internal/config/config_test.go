package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"), filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uiauto.yaml")
	yamlDoc := `
db_path: /var/lib/uiauto/db.sqlite
suite_parallelism: 4
browser:
  type: chromium
  headless: false
  action_timeout: 10s
runner:
  auto_navigate: false
  settle_delay: 250ms
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.DBPath = "/var/lib/uiauto/db.sqlite"
	want.SuiteParallelism = 4
	want.Browser.Headless = false
	want.Browser.ActionTimeout = 10 * time.Second
	want.Runner.AutoNavigate = false
	want.Runner.SettleDelay = 250 * time.Millisecond
	want.Log = Log{Level: "debug", Format: "json"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_OverridesAndErrors(t *testing.T) {
	env := map[string]string{
		"UIAUTO_BROWSER_TYPE":        "WebKit",
		"UIAUTO_BROWSER_HEADLESS":    "false",
		"UIAUTO_SUITE_PARALLELISM":   "2",
		"UIAUTO_REDIS_URL":           "redis://localhost:6379/0",
		"UIAUTO_CONTINUE_ON_FAILURE": "true",
		"UIAUTO_CHROMIUM_DRIVER":     "Playwright",
		"UIAUTO_INSTALL_DRIVERS":     "1",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Browser.Type != BrowserWebkit || cfg.Browser.Headless || cfg.Browser.ChromiumDriver != DriverPlaywright || !cfg.Browser.InstallDrivers {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.SuiteParallelism != 2 || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("parallelism=%d redis=%q", cfg.SuiteParallelism, cfg.RedisURL)
	}
	if !cfg.Runner.ContinueOnFailure {
		t.Error("continue_on_failure not applied")
	}

	env = map[string]string{"UIAUTO_ACTION_TIMEOUT": "soon", "UIAUTO_BROWSER_HEADLESS": "maybe"}
	cfg = Default()
	if err := cfg.applyEnv(lookup); err == nil {
		t.Fatal("expected error for malformed overrides")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("UIAUTO_REPORTS_DIR="+filepath.Join(dir, "reports")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("UIAUTO_REPORTS_DIR") })

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReportsDir != filepath.Join(dir, "reports") {
		t.Errorf("ReportsDir = %q", cfg.ReportsDir)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Browser.Type = "safari"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown browser")
	}
	cfg = Default()
	cfg.SuiteParallelism = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative parallelism")
	}
	cfg = Default()
	cfg.Browser.ChromiumDriver = "selenium"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown chromium driver")
	}
}
