// Package tasks runs ad-hoc queries asynchronously. Callers get a handle
// back immediately and poll it for the result, so a slow LLM round trip
// never blocks the submitting request.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of one submitted task.
type TaskStatus string

const (
	StatusAccepted  TaskStatus = "accepted"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// Task is a snapshot of one submitted query.
type Task struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// RunFunc answers one question. It is called at most once per task.
type RunFunc func(ctx context.Context, question string) (string, error)

// DefaultCapacity is the backlog size when none is configured.
const DefaultCapacity = 16

// Queue holds accepted tasks and drives them one at a time through a
// single worker. Task state lives only in memory: handles do not survive
// a restart, and callers are expected to re-submit.
type Queue struct {
	run    RunFunc
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task

	pending chan string
	done    chan struct{}
	once    sync.Once
}

// New creates a queue with the given backlog capacity. capacity <= 0
// selects DefaultCapacity.
func New(run RunFunc, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		run:     run,
		logger:  logger,
		tasks:   make(map[string]*Task),
		pending: make(chan string, capacity),
		done:    make(chan struct{}),
	}
}

// Submit accepts a question and returns its handle without waiting for
// the answer. ErrQueueFull is returned when the backlog is at capacity;
// the caller decides whether to retry.
func (q *Queue) Submit(question string) (string, error) {
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	id := uuid.NewString()
	task := &Task{
		ID:          id,
		Question:    question,
		Status:      StatusAccepted,
		SubmittedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.tasks[id] = task
	q.mu.Unlock()

	select {
	case q.pending <- id:
		q.logger.Debug("task accepted", "task_id", id)
		return id, nil
	default:
		q.mu.Lock()
		delete(q.tasks, id)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Get returns a copy of the task's current state.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Run consumes the backlog until ctx is cancelled. Tasks execute one at
// a time in submission order.
func (q *Queue) Run(ctx context.Context) error {
	defer q.once.Do(func() { close(q.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.pending:
			q.execute(ctx, id)
		}
	}
}

// Wait blocks until the worker loop has exited.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) execute(ctx context.Context, id string) {
	q.setStatus(id, StatusRunning)

	q.mu.Lock()
	question := q.tasks[id].Question
	q.mu.Unlock()

	result, err := q.run(ctx, question)

	q.mu.Lock()
	defer q.mu.Unlock()
	task := q.tasks[id]
	task.CompletedAt = time.Now().UTC()
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
		q.logger.Warn("task failed", "task_id", id, "error", err)
		return
	}
	task.Status = StatusCompleted
	task.Result = result
	q.logger.Info("task completed", "task_id", id, "duration", task.CompletedAt.Sub(task.SubmittedAt))
}

func (q *Queue) setStatus(id string, status TaskStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.tasks[id]; ok {
		task.Status = status
	}
}
