package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hanwenlu2016/ui-auto-new/internal/logging"
)

// Redis keys.
const (
	TaskKeyPrefix = "uiauto:task:"
	QueueKey      = "uiauto:tasks"
)

// DefaultResultTTL is how long finished task states are kept.
const DefaultResultTTL = 24 * time.Hour

func taskKey(id string) string { return TaskKeyPrefix + id }

// NewRedisClient parses url (redis://...) into a client.
func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CheckRedisConnection pings the server with a short timeout.
func CheckRedisConnection(ctx context.Context, client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	return nil
}

// RedisQueue stores task state in a hash per task and hands ids to
// workers through a list.
type RedisQueue struct {
	client redis.UniversalClient
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	t.ID = uuid.NewString()
	opts, err := json.Marshal(t.Options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(t.ID), map[string]any{
			"kind":        string(t.Kind),
			"target_id":   t.TargetID,
			"executor_id": t.ExecutorID,
			"options":     string(opts),
			"status":      string(StatusPending),
			"created_at":  timestamp(),
		})
		pipe.LPush(ctx, QueueKey, t.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return t.ID, nil
}

func (q *RedisQueue) Poll(ctx context.Context, id string) (*TaskState, error) {
	fields, err := q.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("poll task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	target, _ := strconv.ParseInt(fields["target_id"], 10, 64)
	s := &TaskState{
		ID:         id,
		Kind:       Kind(fields["kind"]),
		TargetID:   target,
		Status:     Status(fields["status"]),
		Error:      fields["error"],
		CreatedAt:  fields["created_at"],
		StartedAt:  fields["started_at"],
		FinishedAt: fields["finished_at"],
	}
	if r := fields["result"]; r != "" {
		s.Result = json.RawMessage(r)
	}
	return s, nil
}

// loadTask reads the task definition stored by Enqueue.
func loadTask(ctx context.Context, client redis.UniversalClient, id string) (Task, error) {
	fields, err := client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return Task{}, err
	}
	if len(fields) == 0 {
		return Task{}, ErrTaskNotFound
	}
	t := Task{ID: id, Kind: Kind(fields["kind"])}
	if t.TargetID, err = strconv.ParseInt(fields["target_id"], 10, 64); err != nil {
		return t, fmt.Errorf("target_id: %w", err)
	}
	if v := fields["executor_id"]; v != "" {
		if t.ExecutorID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return t, fmt.Errorf("executor_id: %w", err)
		}
	}
	if v := fields["options"]; v != "" {
		if err := json.Unmarshal([]byte(v), &t.Options); err != nil {
			return t, fmt.Errorf("options: %w", err)
		}
	}
	return t, nil
}

// WorkerOptions tune a Worker.
type WorkerOptions struct {
	// Concurrency is the number of tasks executed at once (default 1).
	Concurrency int
	// PollTimeout bounds each blocking pop (default 5s).
	PollTimeout time.Duration
	// ResultTTL expires finished task states (default 24h).
	ResultTTL time.Duration
	// RunningTTL expires a task state while it runs, so a task whose
	// worker died mid-run does not stay "running" forever (default 24h).
	RunningTTL time.Duration
}

// Worker pops task ids from Redis and executes them.
type Worker struct {
	client  redis.UniversalClient
	handler Handler
	opts    WorkerOptions
	log     *slog.Logger
}

func NewWorker(client redis.UniversalClient, h Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.RunningTTL <= 0 {
		opts.RunningTTL = DefaultResultTTL
	}
	return &Worker{client: client, handler: h, opts: opts, log: logging.New("worker")}
}

// Run consumes tasks until ctx is cancelled. A task in flight when ctx ends
// is finished first.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "concurrency", w.opts.Concurrency, "queue", QueueKey)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ok, err := w.ProcessOne(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			w.log.Warn("process task", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		case !ok:
			// poll timeout, nothing queued
		}
	}
}

// ProcessOne waits up to PollTimeout for a task and executes it. It
// reports false when nothing was queued.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	vals, err := w.client.BRPop(ctx, w.opts.PollTimeout, QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop task: %w", err)
	}
	id := vals[1]
	// Execution and bookkeeping survive worker shutdown once popped.
	runCtx := context.WithoutCancel(ctx)
	key := taskKey(id)

	t, err := loadTask(runCtx, w.client, id)
	if errors.Is(err, ErrTaskNotFound) {
		w.log.Warn("dropping expired task", "task_id", id)
		return true, nil
	}
	if err != nil {
		w.finish(runCtx, key, StatusFailure, nil, "load task: "+err.Error())
		return true, nil
	}
	// The id is already off the queue: delivery is at most once, and a
	// crash from here on only leaves a state that RunningTTL expires.
	_, err = w.client.TxPipelined(runCtx, func(pipe redis.Pipeliner) error {
		pipe.HSet(runCtx, key, "status", string(StatusRunning), "started_at", timestamp())
		pipe.Expire(runCtx, key, w.opts.RunningTTL)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("mark task %s running: %w", id, err)
	}
	w.log.Info("task started", "task_id", id, "kind", t.Kind, "target_id", t.TargetID)

	status, payload, errMsg := execute(runCtx, w.handler, t)
	w.finish(runCtx, key, status, payload, errMsg)
	w.log.Info("task finished", "task_id", id, "status", status)
	return true, nil
}

func (w *Worker) finish(ctx context.Context, key string, status Status, payload json.RawMessage, errMsg string) {
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"status":      string(status),
			"result":      string(payload),
			"error":       errMsg,
			"finished_at": timestamp(),
		})
		pipe.Expire(ctx, key, w.opts.ResultTTL)
		return nil
	})
	if err != nil {
		w.log.Error("record task result", "key", key, "error", err)
	}
}
