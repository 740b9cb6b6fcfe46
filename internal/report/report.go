// Package report renders raw run results into a browsable report bundle,
// persists the report record, and manages report deletion.
package report

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
	"github.com/hanwenlu2016/ui-auto-new/internal/metrics"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

// Path markers stored instead of a directory when rendering did not happen.
const (
	MarkerNotInstalled = "allure_not_installed"
	markerErrorPrefix  = "error: "
)

// TimestampLayout is appended to every report directory name.
const TimestampLayout = "20060102_150405"

// ErrReportNotFound is returned by Delete for an unknown report id.
var ErrReportNotFound = errors.New("report not found")

// ArtifactDeletionError means the report directory could not be removed.
// The report record is kept.
type ArtifactDeletionError struct {
	ReportID int64
	Path     string
	Err      error
}

func (e *ArtifactDeletionError) Error() string {
	return fmt.Sprintf("delete artifacts of report %d at %s: %v", e.ReportID, e.Path, e.Err)
}

func (e *ArtifactDeletionError) Unwrap() error { return e.Err }

// Degraded reports whether path is a marker rather than a rendered report.
func Degraded(path string) bool {
	return path == MarkerNotInstalled || strings.HasPrefix(path, markerErrorPrefix)
}

// Request describes one finished run to report on.
type Request struct {
	// Name is an explicit report name; empty derives one from the ids.
	Name         string
	CaseID       int64
	SuiteID      int64
	ExecutorID   int64
	ResultsDir   string
	Success      bool
	ErrorMessage string
	Options      browser.Options
}

// Builder renders and persists reports under one reports root.
type Builder struct {
	store    store.Store
	renderer Renderer
	root     string
	now      func() time.Time
	log      *slog.Logger
}

// NewBuilder returns a Builder writing report bundles under root.
func NewBuilder(st store.Store, r Renderer, root string) *Builder {
	return &Builder{
		store:    st,
		renderer: r,
		root:     root,
		now:      time.Now,
		log:      logging.New("report"),
	}
}

// Root is the reports directory.
func (b *Builder) Root() string { return b.root }

// Build renders req.ResultsDir into a uniquely named directory and records
// the report. Rendering problems degrade the stored path but never fail
// the call or change the run status; only persistence errors are returned.
func (b *Builder) Build(ctx context.Context, req Request) (*store.Report, error) {
	if req.CaseID != 0 && req.SuiteID != 0 {
		return nil, errors.New("report request links both a case and a suite")
	}
	outDir, err := b.reserve(DirName(req.Name, req.CaseID, req.SuiteID, b.now()))
	if err != nil {
		return nil, err
	}

	path := outDir
	if err := b.renderer.Render(ctx, req.ResultsDir, outDir); err != nil {
		_ = os.RemoveAll(outDir)
		if errors.Is(err, ErrRendererUnavailable) {
			b.log.Warn("report renderer not installed, recording degraded report", "error", err)
			metrics.RecordRender("unavailable")
			path = MarkerNotInstalled
		} else {
			b.log.Error("render report", "results_dir", req.ResultsDir, "error", err)
			metrics.RecordRender("error")
			path = markerErrorPrefix + err.Error()
		}
	} else {
		metrics.RecordRender("ok")
		b.log.Info("report rendered", "path", outDir)
	}

	r := &store.Report{
		CaseID:       req.CaseID,
		SuiteID:      req.SuiteID,
		ExecutorID:   req.ExecutorID,
		Path:         path,
		Status:       store.StatusFailure,
		BrowserType:  req.Options.BrowserType,
		Headless:     req.Options.Headless,
		ErrorMessage: req.ErrorMessage,
		CreatedAt:    b.now().UTC().Format(time.RFC3339),
	}
	if req.Success {
		r.Status = store.StatusSuccess
	}
	id, err := b.store.CreateReport(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}
	r.ID = id
	return r, nil
}

// reserve creates a fresh directory for name under the root, adding a short
// random suffix when the name is already taken.
func (b *Builder) reserve(name string) (string, error) {
	if err := os.MkdirAll(b.root, 0755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	candidate := name
	for attempt := 0; attempt < 5; attempt++ {
		dir := filepath.Join(b.root, candidate)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create report dir: %w", err)
		}
		candidate = name + "_" + uuid.NewString()[:8]
	}
	return "", fmt.Errorf("no free report directory for %q", name)
}

// DirName derives a report directory name. An explicit name is sanitized
// and still gets the timestamp suffix.
func DirName(explicit string, caseID, suiteID int64, t time.Time) string {
	ts := t.Format(TimestampLayout)
	if name := Sanitize(explicit); name != "" {
		return name + "_" + ts
	}
	switch {
	case caseID != 0:
		return "case_" + strconv.FormatInt(caseID, 10) + "_" + ts
	case suiteID != 0:
		return "suite_" + strconv.FormatInt(suiteID, 10) + "_" + ts
	}
	return "report_" + ts
}

// Sanitize keeps letters, digits, '-', '_' and whitespace, then collapses
// whitespace runs into single underscores.
func Sanitize(name string) string {
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(kept), "_")
}

// Delete removes a report's directory and then its record. A missing
// directory is logged and skipped; a removal failure returns
// *ArtifactDeletionError and keeps the record.
func (b *Builder) Delete(ctx context.Context, id int64) error {
	r, err := b.store.GetReport(ctx, id)
	if err != nil {
		return fmt.Errorf("load report %d: %w", id, err)
	}
	if r == nil {
		return fmt.Errorf("report %d: %w", id, ErrReportNotFound)
	}

	switch rel, ok := b.relative(r.Path); {
	case !ok:
		b.log.Warn("report has no artifact directory under the reports root", "report_id", id, "path", r.Path)
	default:
		dir := filepath.Join(b.root, rel)
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			b.log.Warn("report directory already absent", "report_id", id, "path", dir)
		} else if err := os.RemoveAll(dir); err != nil {
			return &ArtifactDeletionError{ReportID: id, Path: dir, Err: err}
		}
	}

	if err := b.store.DeleteReport(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("report %d: %w", id, ErrReportNotFound)
		}
		return fmt.Errorf("delete report record %d: %w", id, err)
	}
	b.log.Info("report deleted", "report_id", id)
	return nil
}

// relative returns path relative to the reports root when it names a
// directory strictly inside it.
func (b *Builder) relative(path string) (string, bool) {
	if path == "" || Degraded(path) {
		return "", false
	}
	root, err := filepath.Abs(b.root)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// View is a report as exposed to callers.
type View struct {
	ID           int64  `json:"id"`
	CaseID       int64  `json:"case_id,omitempty"`
	SuiteID      int64  `json:"suite_id,omitempty"`
	ExecutorID   int64  `json:"executor_id,omitempty"`
	ReportPath   string `json:"report_path"`
	ReportURL    string `json:"report_url,omitempty"`
	Status       string `json:"status"`
	BrowserType  string `json:"browser_type"`
	Headless     bool   `json:"headless"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ReportURL maps a stored path to /reports/<dir>/index.html, or "" when the
// path is a marker or lies outside the reports root.
func (b *Builder) ReportURL(path string) string {
	rel, ok := b.relative(path)
	if !ok {
		return ""
	}
	return "/reports/" + filepath.ToSlash(rel) + "/index.html"
}

// List returns reports newest first.
func (b *Builder) List(ctx context.Context, offset, limit int) ([]View, error) {
	reports, err := b.store.ListReports(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(reports))
	for _, r := range reports {
		out = append(out, b.view(r))
	}
	return out, nil
}

func (b *Builder) view(r *store.Report) View {
	return View{
		ID:           r.ID,
		CaseID:       r.CaseID,
		SuiteID:      r.SuiteID,
		ExecutorID:   r.ExecutorID,
		ReportPath:   r.Path,
		ReportURL:    b.ReportURL(r.Path),
		Status:       r.Status,
		BrowserType:  r.BrowserType,
		Headless:     r.Headless,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
}
