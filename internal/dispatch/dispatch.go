// Package dispatch is the task boundary of the engine: callers enqueue a
// case or suite run and later poll for its status and result payload.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/metrics"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Done reports whether s is final.
func (s Status) Done() bool { return s == StatusSuccess || s == StatusFailure }

// Kind selects the engine entry point.
type Kind string

const (
	KindCase  Kind = "case"
	KindSuite Kind = "suite"
)

// ErrTaskNotFound is returned by Poll for unknown or expired ids.
var ErrTaskNotFound = errors.New("task not found")

// Task is one deferred engine call.
type Task struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	TargetID   int64             `json:"target_id"`
	Options    engine.RunOptions `json:"options"`
	ExecutorID int64             `json:"executor_id,omitempty"`
}

func (t Task) validate() error {
	switch t.Kind {
	case KindCase, KindSuite:
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if t.TargetID <= 0 {
		return fmt.Errorf("target_id must be positive, got %d", t.TargetID)
	}
	return nil
}

// TaskState is what Poll returns.
type TaskState struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	TargetID   int64           `json:"target_id"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	StartedAt  string          `json:"started_at,omitempty"`
	FinishedAt string          `json:"finished_at,omitempty"`
}

// Queue is the enqueue/poll contract.
type Queue interface {
	Enqueue(ctx context.Context, t Task) (string, error)
	Poll(ctx context.Context, id string) (*TaskState, error)
}

// Handler executes a task. Its return value becomes the result payload; a
// returned error marks the task failed. A failed test run is not an error.
type Handler func(ctx context.Context, t Task) (any, error)

// Runner is the engine surface a Handler drives.
type Runner interface {
	RunCase(ctx context.Context, caseID int64, opts engine.RunOptions, executorID int64) (*engine.CaseRunResult, error)
	RunSuite(ctx context.Context, suiteID int64, opts engine.RunOptions, executorID int64) (*engine.SuiteRunResult, error)
}

// EngineHandler routes tasks to the engine entry points.
func EngineHandler(r Runner) Handler {
	return func(ctx context.Context, t Task) (any, error) {
		switch t.Kind {
		case KindCase:
			return r.RunCase(ctx, t.TargetID, t.Options, t.ExecutorID)
		case KindSuite:
			return r.RunSuite(ctx, t.TargetID, t.Options, t.ExecutorID)
		}
		return nil, fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// execute runs h and folds its outcome, including panics, into a final
// status, payload and error message.
func execute(ctx context.Context, h Handler, t Task) (status Status, payload json.RawMessage, errMsg string) {
	defer func() {
		if p := recover(); p != nil {
			status, payload, errMsg = StatusFailure, nil, fmt.Sprintf("task panicked: %v", p)
		}
		metrics.RecordTask(string(t.Kind), string(status))
	}()
	result, err := h(ctx, t)
	if err != nil {
		return StatusFailure, nil, err.Error()
	}
	if result == nil {
		return StatusSuccess, nil, ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return StatusFailure, nil, fmt.Sprintf("encode result: %v", err)
	}
	return StatusSuccess, data, ""
}
