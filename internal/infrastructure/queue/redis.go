// Package queue is a small Redis-list task queue. Producers enqueue named
// tasks with a JSON payload; workers pop them and record the outcome in a
// per-task status hash.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/spf13/cast"

	"docchat/internal/infrastructure/resilient"
	"docchat/pkg/logger"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
)

// DefaultQueue receives tasks enqueued without an explicit queue.
const DefaultQueue = "default"

// Task is one unit of background work.
type Task struct {
	ID      string
	Name    string
	Queue   string
	Payload map[string]any
}

// Int64 reads a numeric payload field. JSON round trips turn integers into
// floats, so plain type assertions are not enough.
func (t Task) Int64(key string) (int64, error) {
	v, ok := t.Payload[key]
	if !ok {
		return 0, fmt.Errorf("task %s: payload has no %q", t.ID, key)
	}
	return cast.ToInt64E(v)
}

// TaskStatus is the recorded state of a task.
type TaskStatus struct {
	Status    Status    `json:"status"`
	Name      string    `json:"name,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Handler runs one task. A returned error marks the task failed.
type Handler func(ctx context.Context, t Task) error

// Config configures the queue.
type Config struct {
	Redis resilient.RedisConfig
	// ResultTTL is how long task status survives after enqueue; zero means
	// 24h.
	ResultTTL time.Duration
	// BlockTimeout bounds each blocking pop; zero means 5s.
	BlockTimeout time.Duration
	Policy       resilient.RetryPolicy
}

// Queue produces and consumes tasks. Producers never see an error: an
// unreachable Redis yields an empty task ID.
type Queue struct {
	conn         *resilient.Connector[*redis.Client]
	resultTTL    time.Duration
	blockTimeout time.Duration
	retryDelay   time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// New creates the queue without connecting.
func New(cfg Config, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Nop()
	}
	q := &Queue{
		conn:         resilient.NewRedis("redis_queue", cfg.Redis, cfg.Policy, log),
		resultTTL:    cfg.ResultTTL,
		blockTimeout: cfg.BlockTimeout,
		retryDelay:   cfg.Policy.Cooldown,
		log:          log.WithComponent("queue"),
		now:          time.Now,
	}
	if q.resultTTL <= 0 {
		q.resultTTL = 24 * time.Hour
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = 5 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = time.Second
	}
	return q
}

func taskKey(id string) string { return "task:" + id }

func listKey(queue string) string { return "queue:" + queue }

// Init connects eagerly. A failure leaves the queue usable in degraded mode.
func (q *Queue) Init(ctx context.Context) error { return q.conn.Init(ctx) }

func (q *Queue) Name() string                         { return q.conn.Name() }
func (q *Queue) State() resilient.State               { return q.conn.State() }
func (q *Queue) HealthCheck(ctx context.Context) bool { return q.conn.HealthCheck(ctx) }
func (q *Queue) Close() error                         { return q.conn.Close() }

// Enqueue adds a task to the default queue and returns its ID, or "" when
// the task could not be queued.
func (q *Queue) Enqueue(ctx context.Context, name string, payload map[string]any) string {
	return q.EnqueueTo(ctx, DefaultQueue, name, payload)
}

// EnqueueTo adds a task to the named queue.
func (q *Queue) EnqueueTo(ctx context.Context, queue, name string, payload map[string]any) string {
	log := q.log.WithContext(ctx)
	rdb, ok := q.conn.Client(ctx)
	if !ok {
		log.Warnw("queue unavailable, task not enqueued", "task", name)
		return ""
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorw("task payload not serializable", "task", name, "error", err)
		return ""
	}

	id := ksuid.New().String()
	now := q.now().UTC().Format(time.RFC3339Nano)
	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, taskKey(id),
			"name", name,
			"queue", queue,
			"payload", body,
			"status", string(StatusPending),
			"updated_at", now,
		)
		p.Expire(ctx, taskKey(id), q.resultTTL)
		p.LPush(ctx, listKey(queue), id)
		return nil
	})
	if err != nil {
		q.fail(ctx, "enqueue", err)
		return ""
	}
	log.Infow("task enqueued", "task", name, "task_id", id, "queue", queue)
	return id
}

// Status returns the recorded state of a task. Unknown IDs report pending,
// the same as a task not yet picked up.
func (q *Queue) Status(ctx context.Context, id string) TaskStatus {
	unavailable := TaskStatus{Status: StatusUnavailable, Error: "queue is not available", UpdatedAt: q.now().UTC()}
	rdb, ok := q.conn.Client(ctx)
	if !ok {
		return unavailable
	}
	fields, err := rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		q.fail(ctx, "status", err)
		return unavailable
	}
	if len(fields) == 0 {
		return TaskStatus{Status: StatusPending, UpdatedAt: q.now().UTC()}
	}
	st := TaskStatus{
		Status: Status(fields["status"]),
		Name:   fields["name"],
		Error:  fields["error"],
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return st
}

// Consume pops tasks from queue and dispatches them by name until ctx is
// done. While Redis is unreachable it waits and retries. It returns nil on
// cancellation.
func (q *Queue) Consume(ctx context.Context, queue string, handlers map[string]Handler) error {
	log := q.log.WithContext(ctx).With("queue", queue)
	log.Infow("consumer started", "tasks", len(handlers))
	defer log.Infow("consumer stopped")

	for ctx.Err() == nil {
		task, ok := q.pop(ctx, queue)
		if !ok {
			continue
		}
		q.run(ctx, task, handlers[task.Name])
	}
	return nil
}

// pop waits for the next task. It reports false on timeout, outage or a
// task whose record expired.
func (q *Queue) pop(ctx context.Context, queue string) (Task, bool) {
	rdb, ok := q.conn.Client(ctx)
	if !ok {
		q.wait(ctx)
		return Task{}, false
	}
	res, err := rdb.BRPop(ctx, q.blockTimeout, listKey(queue)).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			q.fail(ctx, "pop", err)
			q.wait(ctx)
		}
		return Task{}, false
	}
	id := res[1]

	fields, err := rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		q.fail(ctx, "load", err)
		return Task{}, false
	}
	if len(fields) == 0 {
		q.log.WithContext(ctx).Warnw("task record missing, skipped", "task_id", id)
		return Task{}, false
	}

	task := Task{ID: id, Name: fields["name"], Queue: queue}
	if err := json.Unmarshal([]byte(fields["payload"]), &task.Payload); err != nil {
		q.finish(ctx, task, fmt.Errorf("decode payload: %w", err))
		return Task{}, false
	}
	return task, true
}

func (q *Queue) run(ctx context.Context, task Task, handle Handler) {
	log := q.log.WithContext(ctx)
	if handle == nil {
		q.finish(ctx, task, fmt.Errorf("no handler for task %q", task.Name))
		return
	}
	q.setStatus(ctx, task.ID, StatusRunning, "")

	start := q.now()
	err := q.safeRun(ctx, task, handle)
	q.finish(ctx, task, err)
	if err != nil {
		log.Errorw("task failed", "task", task.Name, "task_id", task.ID, "error", err)
		return
	}
	log.Infow("task completed", "task", task.Name, "task_id", task.ID, "duration", q.now().Sub(start))
}

func (q *Queue) safeRun(ctx context.Context, task Task, handle Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handle(ctx, task)
}

func (q *Queue) finish(ctx context.Context, task Task, err error) {
	if err != nil {
		q.setStatus(ctx, task.ID, StatusFailed, err.Error())
		return
	}
	q.setStatus(ctx, task.ID, StatusCompleted, "")
}

func (q *Queue) setStatus(ctx context.Context, id string, status Status, errMsg string) {
	rdb, ok := q.conn.Client(ctx)
	if !ok {
		return
	}
	err := rdb.HSet(ctx, taskKey(id),
		"status", string(status),
		"error", errMsg,
		"updated_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		q.fail(ctx, "set status", err)
	}
}

func (q *Queue) fail(ctx context.Context, op string, err error) {
	if resilient.IsConnectionError(err) {
		q.conn.MarkFailed(err)
	}
	q.log.WithContext(ctx).Warnw("queue operation failed", "op", op, "error", err)
}

func (q *Queue) wait(ctx context.Context) {
	t := time.NewTimer(q.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
