package allure

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func readResults(d *Dir) ([]Result, error) {
	matches, err := filepath.Glob(filepath.Join(d.Path(), "*-result.json"))
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		var r Result
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func TestDir_ResultAndAttachments(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "run-1"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	att, err := d.AddAttachment("Step 1: goto", MimePNG, []byte("png"))
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if !strings.HasSuffix(att.Source, "-attachment.png") || att.Type != MimePNG {
		t.Errorf("attachment = %+v", att)
	}
	data, err := os.ReadFile(filepath.Join(d.Path(), att.Source))
	if err != nil || string(data) != "png" {
		t.Fatalf("attachment on disk: %q err %v", data, err)
	}

	r := &Result{
		Name:     "login",
		FullName: "TestCase_7_login",
		Status:   StatusFailed,
		Steps: []Step{
			{Name: "Step 1: goto", Status: StatusPassed, Stage: StageFinished, Attachments: []Attachment{att}},
		},
		Labels: []Label{{Name: "feature", Value: "UI Automation"}},
	}
	if err := d.WriteResult(r); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	if r.UUID == "" || r.Stage != StageFinished {
		t.Errorf("WriteResult did not fill uuid/stage: %+v", r)
	}
	if _, err := os.Stat(filepath.Join(d.Path(), r.UUID+"-result.json")); err != nil {
		t.Fatalf("result file: %v", err)
	}

	got, err := readResults(d)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if diff := cmp.Diff([]Result{*r}, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestDir_ConcurrentWritersDoNotCollide(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	const n = 20
	var wg sync.WaitGroup
	sources := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			att, err := d.AddAttachment("Screenshot", MimePNG, []byte{byte(i)})
			if err != nil {
				t.Error(err)
				return
			}
			sources[i] = att.Source
			if err := d.WriteResult(&Result{Name: "c", Status: StatusPassed}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, s := range sources {
		if seen[s] {
			t.Fatalf("duplicate attachment name %s", s)
		}
		seen[s] = true
	}
	results, err := readResults(d)
	if err != nil || len(results) != n {
		t.Fatalf("Results: got %d err %v", len(results), err)
	}
}

func TestDir_WriteEnvironment(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WriteEnvironment(map[string]string{"Headless": "true", "Browser": "chromium"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(d.Path(), "environment.properties"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "Browser=chromium\nHeadless=true\n"; string(data) != want {
		t.Errorf("environment.properties = %q, want %q", data, want)
	}
}
