package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/hanwenlu2016/ui-auto-new/internal/browser"
	"github.com/hanwenlu2016/ui-auto-new/internal/browser/browsertest"
	"github.com/hanwenlu2016/ui-auto-new/internal/report"
	"github.com/hanwenlu2016/ui-auto-new/internal/runner"
	"github.com/hanwenlu2016/ui-auto-new/internal/store"
)

func int64p(v int64) *int64 { return &v }

func stubRenderer(_ context.Context, _, out string) error {
	return os.WriteFile(filepath.Join(out, "index.html"), []byte("<html></html>"), 0644)
}

// trackingLauncher counts concurrently open sessions. When hold > 0 each
// launch waits (bounded) until hold sessions are open at once.
type trackingLauncher struct {
	inner   browser.Launcher
	hold    int64
	panicAt int64

	launches atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
}

func (l *trackingLauncher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	n := l.launches.Add(1)
	if l.panicAt != 0 && n == l.panicAt {
		panic("driver crashed")
	}
	s, err := l.inner.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	cur := l.active.Add(1)
	for {
		p := l.peak.Load()
		if cur <= p || l.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if l.hold > 0 {
		deadline := time.Now().Add(2 * time.Second)
		for l.active.Load() < l.hold && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return &trackedSession{Session: s, active: &l.active}, nil
}

type trackedSession struct {
	browser.Session
	active *atomic.Int64
	once   sync.Once
}

func (s *trackedSession) Close() error {
	s.once.Do(func() { s.active.Add(-1) })
	return s.Session.Close()
}

type world struct {
	st       *store.MemStore
	launcher *browsertest.Launcher
	eng      *Engine
	root     string
	projID   int64
	modID    int64
	buyID    int64
}

func newWorld(deps func(*Deps)) *world {
	ctx := context.Background()
	w := &world{st: store.NewMemStore(), root: ginkgo.GinkgoT().TempDir()}
	w.launcher = &browsertest.Launcher{Script: &browsertest.Script{
		Missing: map[string]bool{"#gone": true},
		Texts:   map[string]string{"#msg": "Order placed"},
	}}

	var err error
	w.projID, err = w.st.CreateProject(ctx, &store.Project{Name: "shop"})
	gomega.Expect(err).To(gomega.Succeed())
	w.modID, err = w.st.CreateModule(ctx, &store.Module{ProjectID: w.projID, Name: "checkout"})
	gomega.Expect(err).To(gomega.Succeed())
	w.buyID, err = w.st.CreateElement(ctx, &store.Element{Name: "buy", LocatorType: "css", LocatorValue: "#buy"})
	gomega.Expect(err).To(gomega.Succeed())

	d := Deps{
		Store:      w.st,
		Launcher:   w.launcher,
		Renderer:   report.RendererFunc(stubRenderer),
		ResultsDir: filepath.Join(w.root, "results"),
		ReportsDir: filepath.Join(w.root, "reports"),
		Policy:     runner.Policy{},
		Defaults:   browser.Options{BrowserType: "chromium", Headless: true},
	}
	if deps != nil {
		deps(&d)
	}
	w.eng = New(d)
	return w
}

func (w *world) passingCase(name string) int64 {
	id, err := w.st.CreateCase(context.Background(), &store.Case{ModuleID: w.modID, Name: name, Steps: []store.Step{
		{Action: "goto", Value: "https://shop.example"},
		{Action: "click", ElementID: int64p(w.buyID)},
	}})
	gomega.Expect(err).To(gomega.Succeed())
	return id
}

func (w *world) brokenCase(name string) int64 {
	id, err := w.st.CreateCase(context.Background(), &store.Case{ModuleID: w.modID, Name: name, Steps: []store.Step{
		{Action: "goto", Value: "https://example.com"},
		{Action: "wait", Value: "1"},
		{Action: "click", ElementID: int64p(42)},
	}})
	gomega.Expect(err).To(gomega.Succeed())
	return id
}

func (w *world) suite(name string, cases ...int64) int64 {
	refs := make([]store.CaseRef, len(cases))
	for i, c := range cases {
		refs[i] = store.CaseRef{ID: c}
	}
	id, err := w.st.CreateSuite(context.Background(), &store.Suite{ProjectID: w.projID, Name: name, Cases: refs})
	gomega.Expect(err).To(gomega.Succeed())
	return id
}

func (w *world) reports() []*store.Report {
	list, err := w.st.ListReports(context.Background(), 0, 100)
	gomega.Expect(err).To(gomega.Succeed())
	return list
}

var _ = ginkgo.Describe("RunCase", func() {
	ctx := context.Background()

	ginkgo.It("runs a passing case and records a success report", func() {
		w := newWorld(nil)
		caseID := w.passingCase("buy")

		res, err := w.eng.RunCase(ctx, caseID, RunOptions{}, 9)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeTrue())
		gomega.Expect(res.Steps).To(gomega.HaveLen(2))
		gomega.Expect(res.ReportError).To(gomega.BeEmpty())
		gomega.Expect(filepath.Join(res.ReportPath, "index.html")).To(gomega.BeAnExistingFile())
		gomega.Expect(filepath.Dir(res.ReportPath)).To(gomega.Equal(filepath.Join(w.root, "reports")))

		reps := w.reports()
		gomega.Expect(reps).To(gomega.HaveLen(1))
		gomega.Expect(reps[0].ID).To(gomega.Equal(res.ReportID))
		gomega.Expect(reps[0].CaseID).To(gomega.Equal(caseID))
		gomega.Expect(reps[0].SuiteID).To(gomega.BeZero())
		gomega.Expect(reps[0].ExecutorID).To(gomega.Equal(int64(9)))
		gomega.Expect(reps[0].Status).To(gomega.Equal(store.StatusSuccess))
		gomega.Expect(reps[0].BrowserType).To(gomega.Equal("chromium"))
		gomega.Expect(w.launcher.AllClosed()).To(gomega.BeTrue())
		gomega.Expect(w.st.OpenHandles()).To(gomega.BeZero())
	})

	ginkgo.It("stops at the unresolved element and reports the failure", func() {
		w := newWorld(nil)
		caseID := w.brokenCase("missing element")

		res, err := w.eng.RunCase(ctx, caseID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Steps).To(gomega.HaveLen(3))
		gomega.Expect(res.Steps[0].Success).To(gomega.BeTrue())
		gomega.Expect(res.Steps[1].Success).To(gomega.BeTrue())
		gomega.Expect(res.Steps[2].Success).To(gomega.BeFalse())
		gomega.Expect(res.Steps[2].Error).To(gomega.ContainSubstring("not found"))
		gomega.Expect(res.Error).To(gomega.Equal(res.Steps[2].Error))
		gomega.Expect(res.Screenshot).NotTo(gomega.BeEmpty())

		reps := w.reports()
		gomega.Expect(reps).To(gomega.HaveLen(1))
		gomega.Expect(reps[0].Status).To(gomega.Equal(store.StatusFailure))
		gomega.Expect(reps[0].ErrorMessage).To(gomega.Equal("Element 42 not found"))
	})

	ginkgo.It("short-circuits an unknown case without a browser or report", func() {
		w := newWorld(nil)

		res, err := w.eng.RunCase(ctx, 404, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Error).To(gomega.Equal(runner.MsgCaseNotFound))
		gomega.Expect(w.launcher.Launched()).To(gomega.BeZero())
		gomega.Expect(w.reports()).To(gomega.BeEmpty())

		entries, _ := os.ReadDir(filepath.Join(w.root, "results"))
		gomega.Expect(entries).To(gomega.BeEmpty())
	})

	ginkgo.It("keeps the test outcome when the renderer is missing", func() {
		w := newWorld(func(d *Deps) {
			d.Renderer = report.AllureCLI{Binary: "no-such-allure-binary-for-tests"}
		})
		caseID := w.passingCase("buy")

		res, err := w.eng.RunCase(ctx, caseID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeTrue())
		gomega.Expect(res.ReportPath).To(gomega.Equal(report.MarkerNotInstalled))
		gomega.Expect(res.ReportError).To(gomega.Equal(report.MarkerNotInstalled))
		gomega.Expect(w.reports()[0].Status).To(gomega.Equal(store.StatusSuccess))
	})

	ginkgo.It("applies request options over engine defaults", func() {
		w := newWorld(nil)
		caseID := w.passingCase("buy")
		headed := false

		_, err := w.eng.RunCase(ctx, caseID, RunOptions{Headless: &headed, ReportName: "Manual check"}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(w.launcher.Options()).To(gomega.Equal([]browser.Options{{BrowserType: "chromium", Headless: false}}))
		gomega.Expect(filepath.Base(w.reports()[0].Path)).To(gomega.HavePrefix("Manual_check_"))

		_, err = w.eng.RunCase(ctx, caseID, RunOptions{BrowserType: "opera"}, 0)
		gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("browser_type")))
	})

	ginkgo.It("gives concurrent runs of one case distinct reports and artifacts", func() {
		w := newWorld(nil)
		caseID := w.brokenCase("flaky")

		var wg sync.WaitGroup
		results := make([]*CaseRunResult, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer ginkgo.GinkgoRecover()
				defer wg.Done()
				res, err := w.eng.RunCase(ctx, caseID, RunOptions{}, 0)
				gomega.Expect(err).To(gomega.Succeed())
				results[i] = res
			}(i)
		}
		wg.Wait()

		gomega.Expect(results[0].ReportPath).NotTo(gomega.Equal(results[1].ReportPath))
		gomega.Expect(results[0].RunID).NotTo(gomega.Equal(results[1].RunID))

		shots, err := filepath.Glob(filepath.Join(w.root, "results", "*", "*-attachment.png"))
		gomega.Expect(err).To(gomega.Succeed())
		// 3 step screenshots + 1 terminal screenshot per run
		gomega.Expect(shots).To(gomega.HaveLen(8))
	})
})

var _ = ginkgo.Describe("RunSuite", func() {
	ctx := context.Background()

	ginkgo.It("aggregates members in order and reports once after the suite", func() {
		w := newWorld(nil)
		a := w.passingCase("add to cart")
		b := w.brokenCase("pay")
		c := w.passingCase("confirm")
		suiteID := w.suite("Nightly smoke", a, b, c)

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 3)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.TotalCases).To(gomega.Equal(3))
		gomega.Expect(res.Passed).To(gomega.Equal(2))
		gomega.Expect(res.Failed).To(gomega.Equal(1))
		gomega.Expect(res.Passed + res.Failed).To(gomega.Equal(res.TotalCases))
		gomega.Expect(res.Results).To(gomega.HaveLen(3))
		gomega.Expect([]int64{res.Results[0].CaseID, res.Results[1].CaseID, res.Results[2].CaseID}).
			To(gomega.Equal([]int64{a, b, c}))
		gomega.Expect(res.Results[1].CaseName).To(gomega.Equal("pay"))
		gomega.Expect(res.Results[1].Error).To(gomega.Equal("Element 42 not found"))
		gomega.Expect(res.Results[1].Result.Steps).To(gomega.HaveLen(3))

		reps := w.reports()
		gomega.Expect(reps).To(gomega.HaveLen(1))
		gomega.Expect(reps[0].SuiteID).To(gomega.Equal(suiteID))
		gomega.Expect(reps[0].CaseID).To(gomega.BeZero())
		gomega.Expect(reps[0].Status).To(gomega.Equal(store.StatusFailure))
		gomega.Expect(filepath.Base(res.ReportPath)).To(gomega.HavePrefix("Nightly_smoke_"))
		gomega.Expect(w.launcher.Launched()).To(gomega.Equal(3))
		gomega.Expect(w.launcher.AllClosed()).To(gomega.BeTrue())
		gomega.Expect(w.st.Acquired()).To(gomega.Equal(int64(3)))
		gomega.Expect(w.st.OpenHandles()).To(gomega.BeZero())

		// One shared results dir holding one result per member.
		resultFiles, _ := filepath.Glob(filepath.Join(w.root, "results", "suite_*", "*-result.json"))
		gomega.Expect(resultFiles).To(gomega.HaveLen(3))
	})

	ginkgo.It("succeeds when every member passes", func() {
		w := newWorld(nil)
		suiteID := w.suite("green", w.passingCase("one"), w.passingCase("two"))

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeTrue())
		gomega.Expect(res.Passed).To(gomega.Equal(2))
		gomega.Expect(w.reports()[0].Status).To(gomega.Equal(store.StatusSuccess))
	})

	ginkgo.It("returns immediately for an empty suite", func() {
		w := newWorld(nil)
		suiteID := w.suite("empty")

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Error).To(gomega.Equal(MsgSuiteEmpty))
		gomega.Expect(w.launcher.Launched()).To(gomega.BeZero())
		gomega.Expect(w.reports()).To(gomega.BeEmpty())
	})

	ginkgo.It("returns immediately for an unknown suite", func() {
		w := newWorld(nil)

		res, err := w.eng.RunSuite(ctx, 77, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Error).To(gomega.Equal(MsgSuiteNotFound))
		gomega.Expect(res.Results).To(gomega.BeEmpty())
		gomega.Expect(w.reports()).To(gomega.BeEmpty())
	})

	ginkgo.It("isolates a member whose run panics", func() {
		var tl *trackingLauncher
		w := newWorld(func(d *Deps) {
			tl = &trackingLauncher{inner: d.Launcher, panicAt: 2}
			d.Launcher = tl
			d.MaxParallel = 1
		})
		suiteID := w.suite("crashy", w.passingCase("one"), w.passingCase("two"), w.passingCase("three"))

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Passed).To(gomega.Equal(2))
		gomega.Expect(res.Failed).To(gomega.Equal(1))
		gomega.Expect(res.Results[1].Success).To(gomega.BeFalse())
		gomega.Expect(res.Results[1].Error).To(gomega.ContainSubstring("driver crashed"))
		gomega.Expect(w.reports()).To(gomega.HaveLen(1))
		gomega.Expect(w.st.OpenHandles()).To(gomega.BeZero())
	})

	ginkgo.It("runs every member at once by default", func() {
		var tl *trackingLauncher
		w := newWorld(func(d *Deps) {
			tl = &trackingLauncher{inner: d.Launcher, hold: 4}
			d.Launcher = tl
		})
		suiteID := w.suite("wide", w.passingCase("1"), w.passingCase("2"), w.passingCase("3"), w.passingCase("4"))

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.Success).To(gomega.BeTrue())
		gomega.Expect(tl.peak.Load()).To(gomega.Equal(int64(4)))
		gomega.Expect(tl.active.Load()).To(gomega.BeZero())
	})

	ginkgo.It("honours MaxParallel", func() {
		var tl *trackingLauncher
		w := newWorld(func(d *Deps) {
			tl = &trackingLauncher{inner: d.Launcher}
			d.Launcher = tl
			d.MaxParallel = 2
		})
		ids := make([]int64, 6)
		for i := range ids {
			ids[i] = w.passingCase(strings.Repeat("c", i+1))
		}
		suiteID := w.suite("narrow", ids...)

		res, err := w.eng.RunSuite(ctx, suiteID, RunOptions{}, 0)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(res.TotalCases).To(gomega.Equal(6))
		gomega.Expect(tl.peak.Load()).To(gomega.BeNumerically("<=", 2))
	})
})
