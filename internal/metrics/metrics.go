// Package metrics exposes Prometheus instruments for the execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricsNamespace = "uiauto"

// Result label values.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of executed steps",
	}, []string{
		"action",
		"result",
	})

	caseRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "case_runs_total",
		Help:      "Count of case runs",
	}, []string{
		"result",
	})

	caseRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "case_run_duration_seconds",
		Help:      "Wall time of case runs",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	suiteRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_runs_total",
		Help:      "Count of suite runs",
	}, []string{
		"result",
	})

	reportRendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "report_renders_total",
		Help:      "Count of report render attempts by outcome",
	}, []string{
		"outcome",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_browser_sessions",
		Help:      "Browser sessions currently open",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tasks_total",
		Help:      "Count of dispatched tasks by kind and final status",
	}, []string{
		"kind",
		"status",
	})
)

func result(ok bool) string {
	if ok {
		return ResultPassed
	}
	return ResultFailed
}

func RecordStep(action string, ok bool) {
	stepsTotal.WithLabelValues(action, result(ok)).Inc()
}

func RecordCaseRun(ok bool, d time.Duration) {
	caseRunsTotal.WithLabelValues(result(ok)).Inc()
	caseRunDuration.Observe(d.Seconds())
}

// RecordCaseError counts runs that ended with an infrastructure error.
func RecordCaseError() {
	caseRunsTotal.WithLabelValues(ResultError).Inc()
}

func RecordSuiteRun(ok bool) {
	suiteRunsTotal.WithLabelValues(result(ok)).Inc()
}

// RecordRender counts one render attempt; outcome is "ok", "unavailable" or "error".
func RecordRender(outcome string) {
	reportRendersTotal.WithLabelValues(outcome).Inc()
}

func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }

func RecordTask(kind, status string) {
	tasksTotal.WithLabelValues(kind, status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
