// Package allure writes Allure-compatible raw results: one JSON result per
// case run plus its attachments, all uuid-keyed in a results directory that
// the Allure CLI renders into a browsable report.
package allure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const StageFinished = "finished"

const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusBroken  = "broken"
)

const MimePNG = "image/png"

type Result struct {
	UUID          string        `json:"uuid"`
	TestCaseID    string        `json:"testCaseId"`
	HistoryID     string        `json:"historyId"`
	Name          string        `json:"name"`
	FullName      string        `json:"fullName"`
	Description   string        `json:"description,omitempty"`
	Status        string        `json:"status"`
	StatusDetails *StatusDetail `json:"statusDetails,omitempty"`
	Stage         string        `json:"stage"`
	Steps         []Step        `json:"steps"`
	Start         int64         `json:"start"`
	Stop          int64         `json:"stop"`
	Parameters    []Parameter   `json:"parameters"`
	Labels        []Label       `json:"labels"`
	Attachments   []Attachment  `json:"attachments"`
}

type StatusDetail struct {
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

type Step struct {
	Name          string        `json:"name"`
	Status        string        `json:"status"`
	StatusDetails *StatusDetail `json:"statusDetails,omitempty"`
	Stage         string        `json:"stage"`
	Steps         []Step        `json:"steps"`
	Attachments   []Attachment  `json:"attachments"`
	Parameters    []Parameter   `json:"parameters"`
	Start         int64         `json:"start"`
	Stop          int64         `json:"stop"`
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Attachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Millis converts t to Allure's epoch-millisecond timestamps.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// Dir is a raw results directory. Every file it writes carries a fresh
// uuid, so concurrent runs may share one Dir.
type Dir struct {
	path string
}

// Open creates path if needed.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path is the directory on disk.
func (d *Dir) Path() string { return d.path }

// AddAttachment stores data as {uuid}-attachment.{ext} and returns the
// reference to embed in a result or step.
func (d *Dir) AddAttachment(name, mimeType string, data []byte) (Attachment, error) {
	source := uuid.NewString() + "-attachment" + extension(mimeType)
	if err := os.WriteFile(filepath.Join(d.path, source), data, 0644); err != nil {
		return Attachment{}, fmt.Errorf("write attachment %q: %w", name, err)
	}
	return Attachment{Name: name, Source: source, Type: mimeType}, nil
}

// WriteResult stores r as {uuid}-result.json, assigning a uuid if r has none.
func (d *Dir) WriteResult(r *Result) error {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	if r.Stage == "" {
		r.Stage = StageFinished
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.path, r.UUID+"-result.json"), data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// WriteEnvironment writes environment.properties, shown on the report's
// overview page.
func (d *Dir) WriteEnvironment(env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	if err := os.WriteFile(filepath.Join(d.path, "environment.properties"), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write environment: %w", err)
	}
	return nil
}

func extension(mimeType string) string {
	switch mimeType {
	case MimePNG:
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	}
	return ""
}
