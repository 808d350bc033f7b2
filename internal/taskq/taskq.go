package taskq

import (
	"sync"

	"go.uber.org/zap"
)

// Queue executes submitted tasks strictly one at a time, in submission
// order. It replaces the promise-chain serialization idiom: each task
// finishes completely before the next starts, so two writers that share
// a resource (the credential files, the connection lifecycle) can never
// interleave even though the rest of the process keeps running.
type Queue struct {
	tasks  chan task
	done   chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

type task struct {
	name string
	fn   func()
}

// New creates a queue and starts its worker goroutine.
func New(logger *zap.Logger) *Queue {
	q := &Queue{
		tasks:  make(chan task, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				zap.String("task", t.name),
				zap.Any("panic", r),
			)
		}
	}()
	t.fn()
}

// Do enqueues fn. It blocks only if the queue buffer is full. Errors are
// the task's own business: a failed or panicking task never prevents
// later tasks from running. Tasks submitted after Close are dropped.
func (q *Queue) Do(name string, fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("dropping task submitted after close", zap.String("task", name))
		return
	}
	q.tasks <- task{name: name, fn: fn}
}

// Close stops accepting tasks, runs everything already queued, and
// returns once the worker has drained. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.done
}
