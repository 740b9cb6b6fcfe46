package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the CLI in-process against a config rooted in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "uiauto.yaml"),
		"--env-file", filepath.Join(dir, ".env"),
		"--log-level", "error",
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "db_path: " + filepath.Join(dir, "db", "uiauto.db") + "\n" +
		"results_dir: " + filepath.Join(dir, "results") + "\n" +
		"reports_dir: " + filepath.Join(dir, "reports") + "\n" +
		"allure_binary: " + filepath.Join(dir, "no-such-allure") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "uiauto.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSeedAndListReports(t *testing.T) {
	dir := writeConfig(t)
	out, err := execute(t, dir, "seed", filepath.Join("..", "..", "internal", "fixture", "testdata", "shop.yaml"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, want := range []string{"valid login", "banner visible", "smoke"} {
		if !strings.Contains(out, want) {
			t.Errorf("seed output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, dir, "reports", "list", "-o", "json")
	if err != nil {
		t.Fatalf("reports list: %v", err)
	}
	var views []map[string]any
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(views) != 0 {
		t.Errorf("want no reports, got %v", views)
	}
}

func TestRunCase_NotFoundNeedsNoBrowser(t *testing.T) {
	dir := writeConfig(t)
	out, err := execute(t, dir, "run", "case", "999", "-o", "json")
	if err == nil || !strings.Contains(err.Error(), "case 999 failed") {
		t.Fatalf("err = %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res["success"] != false || res["error"] != "Test case not found" {
		t.Errorf("result = %v", res)
	}
	if _, ok := res["report_id"]; ok {
		t.Error("no report expected for a case that was never executed")
	}
}

func TestRunSuite_NotFound(t *testing.T) {
	dir := writeConfig(t)
	out, err := execute(t, dir, "run", "suite", "5")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out, "Test suite not found") {
		t.Errorf("output:\n%s", out)
	}
}

func TestArgumentErrors(t *testing.T) {
	dir := writeConfig(t)
	if _, err := execute(t, dir, "run", "case", "abc"); err == nil || !strings.Contains(err.Error(), "positive integer") {
		t.Errorf("bad id: %v", err)
	}
	if _, err := execute(t, dir, "run", "case", "1", "--browser", "lynx"); err == nil || !strings.Contains(err.Error(), "lynx") {
		t.Errorf("bad browser: %v", err)
	}
	if _, err := execute(t, dir, "reports", "delete", "4"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing report: %v", err)
	}
	if _, err := execute(t, dir, "worker"); err == nil || !strings.Contains(err.Error(), "redis_url") {
		t.Errorf("worker without redis: %v", err)
	}
	if _, err := execute(t, dir, "--log-format", "xml", "reports", "list"); err == nil {
		t.Error("expected log format error")
	}
}
