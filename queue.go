package main

import (
	"errors"
	"sync"
	"time"
)

// errQueueFull is returned to producers when the task queue is at capacity.
// The HTTP boundary maps it to 503.
var errQueueFull = errors.New("task queue full")

// Task is a unit of deferred work executed by the scheduler worker. Fn runs
// to completion once admitted; WorstCase is the static upper bound on its
// runtime used for admission control.
type Task struct {
	Name      string
	WorstCase time.Duration
	Fn        func()
}

// TaskQueue is a bounded FIFO of tasks. Producers run on arbitrary
// goroutines and fail fast when the bound is hit; the single scheduler
// worker consumes with a blocking timed wait so an idle server stays cheap.
//
// A dequeued task keeps its slot reserved until the consumer commits to it:
// Release frees the slot once the task runs, Requeue consumes the
// reservation to put the task back. Producers count reservations against
// the bound, so Requeue always has room and never blocks the worker.
type TaskQueue struct {
	mu       sync.Mutex
	items    []Task
	reserved int           // dequeued tasks whose slot is still held
	avail    chan struct{} // one token per queued item
}

// NewTaskQueue returns a queue holding at most capacity tasks, counting any
// dequeued-but-undecided task against the capacity.
func NewTaskQueue(capacity int) *TaskQueue {
	return &TaskQueue{avail: make(chan struct{}, capacity)}
}

// Put appends a task, returning errQueueFull when at capacity. It never
// blocks the producer.
func (q *TaskQueue) Put(t Task) error {
	q.mu.Lock()
	if len(q.items)+q.reserved >= cap(q.avail) {
		q.mu.Unlock()
		return errQueueFull
	}
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.avail <- struct{}{}
	return nil
}

// Requeue re-inserts a task the scheduler dequeued but could not admit
// within the remaining cycle budget, consuming its reservation. Tail
// insertion is order-preserving enough: non-critical tasks are commutative
// with respect to the critical sweep.
func (q *TaskQueue) Requeue(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.reserved--
	q.mu.Unlock()
	q.avail <- struct{}{}
}

// Release frees the slot of a dequeued task once the consumer has committed
// to running it.
func (q *TaskQueue) Release() {
	q.mu.Lock()
	q.reserved--
	q.mu.Unlock()
}

// GetWithTimeout blocks up to d for the head task, reserving its slot. The
// second return is false when the wait timed out.
func (q *TaskQueue) GetWithTimeout(d time.Duration) (Task, bool) {
	if d <= 0 {
		select {
		case <-q.avail:
		default:
			return Task{}, false
		}
	} else {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-q.avail:
		case <-timer.C:
			return Task{}, false
		}
	}

	q.mu.Lock()
	t := q.items[0]
	q.items = q.items[1:]
	q.reserved++
	q.mu.Unlock()
	return t, true
}

// Len returns the current queue depth.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
