// Package serial runs tasks one at a time, in submission order, on top of an
// arbitrary Executor.
//
// A Queue never runs two of its tasks concurrently and never reorders them,
// however the underlying executor schedules work. Socket bridges use one to
// deliver engine notifications; the status coordinator uses one per
// replicator and one per listener.
package serial

import (
	"fmt"
	"log/slog"
	"sync"
)

// Executor schedules a task for asynchronous execution.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) { f(task) }

// GoExecutor runs every task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) { go task() })

// Queue is an unbounded FIFO of tasks drained by at most one runner.
type Queue struct {
	name     string
	executor Executor
	logger   *slog.Logger

	mu      sync.Mutex
	tasks   []func()
	running bool
	idle    *sync.Cond
}

// NewQueue creates a queue draining on executor. A nil executor uses
// GoExecutor.
func NewQueue(name string, executor Executor, logger *slog.Logger) *Queue {
	if executor == nil {
		executor = GoExecutor
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{name: name, executor: executor, logger: logger}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue name given at construction.
func (q *Queue) Name() string { return q.name }

// Enqueue appends task. It never blocks on the task itself.
func (q *Queue) Enqueue(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.executor.Execute(q.drain)
}

// Len returns the number of tasks not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Wait blocks until the queue has no pending or running task.
func (q *Queue) Wait() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("serial task panicked", "queue", q.name, "panic", fmt.Sprint(r))
		}
	}()
	task()
}
