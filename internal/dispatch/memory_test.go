package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanwenlu2016/ui-auto-new/internal/engine"
	"github.com/hanwenlu2016/ui-auto-new/internal/runner"
)

func waitDone(t *testing.T, q Queue, id string) *TaskState {
	t.Helper()
	var st *TaskState
	require.Eventually(t, func() bool {
		s, err := q.Poll(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.Status.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestMemoryQueue_Success(t *testing.T) {
	release := make(chan struct{})
	q := NewMemoryQueue(func(ctx context.Context, task Task) (any, error) {
		<-release
		return map[string]any{"success": true, "case_id": task.TargetID}, nil
	})
	defer q.Close()

	id, err := q.Enqueue(context.Background(), Task{Kind: KindCase, TargetID: 5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := q.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusPending, StatusRunning}, st.Status)
	assert.NotEmpty(t, st.CreatedAt)
	assert.Nil(t, st.Result)

	close(release)
	st = waitDone(t, q, id)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.JSONEq(t, `{"success":true,"case_id":5}`, string(st.Result))
	assert.Empty(t, st.Error)
	assert.NotEmpty(t, st.StartedAt)
	assert.NotEmpty(t, st.FinishedAt)
}

func TestMemoryQueue_HandlerError(t *testing.T) {
	q := NewMemoryQueue(func(context.Context, Task) (any, error) {
		return nil, errors.New("database is locked")
	})
	defer q.Close()

	id, err := q.Enqueue(context.Background(), Task{Kind: KindSuite, TargetID: 1})
	require.NoError(t, err)
	st := waitDone(t, q, id)
	assert.Equal(t, StatusFailure, st.Status)
	assert.Equal(t, "database is locked", st.Error)
	assert.Nil(t, st.Result)
}

func TestMemoryQueue_PanicBecomesFailure(t *testing.T) {
	q := NewMemoryQueue(func(context.Context, Task) (any, error) {
		panic("boom")
	})
	defer q.Close()

	id, err := q.Enqueue(context.Background(), Task{Kind: KindCase, TargetID: 1})
	require.NoError(t, err)
	st := waitDone(t, q, id)
	assert.Equal(t, StatusFailure, st.Status)
	assert.Contains(t, st.Error, "boom")
}

func TestMemoryQueue_EnqueueCtxCancelDoesNotAbortTask(t *testing.T) {
	q := NewMemoryQueue(func(ctx context.Context, _ Task) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "ok", ctx.Err()
	})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	id, err := q.Enqueue(ctx, Task{Kind: KindCase, TargetID: 1})
	require.NoError(t, err)
	cancel()
	st := waitDone(t, q, id)
	assert.Equal(t, StatusSuccess, st.Status)
}

func TestMemoryQueue_Validation(t *testing.T) {
	q := NewMemoryQueue(func(context.Context, Task) (any, error) { return nil, nil })
	defer q.Close()

	_, err := q.Enqueue(context.Background(), Task{Kind: "report", TargetID: 1})
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), Task{Kind: KindCase})
	assert.Error(t, err)

	_, err = q.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryQueue_CloseWaitsAndRejects(t *testing.T) {
	var finished sync.WaitGroup
	finished.Add(1)
	q := NewMemoryQueue(func(context.Context, Task) (any, error) {
		time.Sleep(30 * time.Millisecond)
		finished.Done()
		return nil, nil
	})
	id, err := q.Enqueue(context.Background(), Task{Kind: KindCase, TargetID: 1})
	require.NoError(t, err)

	q.Close()
	st, err := q.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)

	_, err = q.Enqueue(context.Background(), Task{Kind: KindCase, TargetID: 1})
	assert.Error(t, err)
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	opts  engine.RunOptions
}

func (f *fakeRunner) RunCase(_ context.Context, id int64, opts engine.RunOptions, _ int64) (*engine.CaseRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "case")
	f.opts = opts
	return &engine.CaseRunResult{CaseResult: runner.CaseResult{CaseID: id, Success: false, Error: "Element 42 not found"}}, nil
}

func (f *fakeRunner) RunSuite(_ context.Context, id int64, opts engine.RunOptions, _ int64) (*engine.SuiteRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "suite")
	f.opts = opts
	return &engine.SuiteRunResult{Success: true, SuiteID: id, TotalCases: 2, Passed: 2}, nil
}

func TestEngineHandler(t *testing.T) {
	r := &fakeRunner{}
	q := NewMemoryQueue(EngineHandler(r))
	defer q.Close()

	// A failed test run is still a successfully executed task.
	caseID, err := q.Enqueue(context.Background(), Task{Kind: KindCase, TargetID: 3, Options: engine.RunOptions{BrowserType: "chromium"}})
	require.NoError(t, err)
	st := waitDone(t, q, caseID)
	assert.Equal(t, StatusSuccess, st.Status)
	var cr map[string]any
	require.NoError(t, json.Unmarshal(st.Result, &cr))
	assert.Equal(t, false, cr["success"])
	assert.Equal(t, "Element 42 not found", cr["error"])

	suiteID, err := q.Enqueue(context.Background(), Task{Kind: KindSuite, TargetID: 9})
	require.NoError(t, err)
	st = waitDone(t, q, suiteID)
	assert.Equal(t, StatusSuccess, st.Status)
	var sr map[string]any
	require.NoError(t, json.Unmarshal(st.Result, &sr))
	assert.Equal(t, float64(2), sr["passed"])

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []string{"case", "suite"}, r.calls)
}
