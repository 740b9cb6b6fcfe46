package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
)

// MemoryQueue runs each task on its own goroutine in-process.
type MemoryQueue struct {
	handler Handler
	log     *slog.Logger

	mu     sync.RWMutex
	states map[string]*TaskState
	wg     sync.WaitGroup
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns a queue that executes tasks with h.
func NewMemoryQueue(h Handler) *MemoryQueue {
	return &MemoryQueue{
		handler: h,
		log:     logging.New("dispatch"),
		states:  make(map[string]*TaskState),
	}
}

// Enqueue records t as pending and starts it. The task does not inherit
// ctx's cancellation; it runs to completion once accepted.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	t.ID = uuid.NewString()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.New("queue closed")
	}
	q.states[t.ID] = &TaskState{
		ID:        t.ID,
		Kind:      t.Kind,
		TargetID:  t.TargetID,
		Status:    StatusPending,
		CreatedAt: timestamp(),
	}
	q.wg.Add(1)
	q.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer q.wg.Done()
		q.update(t.ID, func(s *TaskState) {
			s.Status = StatusRunning
			s.StartedAt = timestamp()
		})
		q.log.Info("task started", "task_id", t.ID, "kind", t.Kind, "target_id", t.TargetID)
		status, payload, errMsg := execute(runCtx, q.handler, t)
		q.update(t.ID, func(s *TaskState) {
			s.Status = status
			s.Result = payload
			s.Error = errMsg
			s.FinishedAt = timestamp()
		})
		q.log.Info("task finished", "task_id", t.ID, "status", status)
	}()
	return t.ID, nil
}

func (q *MemoryQueue) update(id string, fn func(*TaskState)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.states[id]; ok {
		fn(s)
	}
}

// Poll returns a snapshot of the task's state.
func (q *MemoryQueue) Poll(_ context.Context, id string) (*TaskState, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s, ok := q.states[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *s
	return &cp, nil
}

// Close stops accepting tasks and waits for running ones.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
