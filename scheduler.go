package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// Scheduler states.
const (
	schedStopped int32 = iota
	schedRunning
	schedStopRequested
)

var errAlreadyRunning = errors.New("scheduler already running")

// Scheduler runs all deferred work on a single cooperative worker. Each
// cycle of length cycle_time opens with a non-critical band that drains the
// task queue under admission control, and closes with the critical sweep
// that flushes edit buffers and notifies subscribers.
//
// There is no preemption. A task is dequeued only when its declared worst
// case fits in what is left of the non-critical band; otherwise it goes
// back to the tail of the queue and the band ends early. The deadlines are
// advanced by exactly one cycle_time per cycle, so an overrun consumes
// slack from the next cycle instead of drifting the period.
type Scheduler struct {
	queue *TaskQueue
	sweep Task

	cycle      time.Duration
	ncBudget   time.Duration
	critBudget time.Duration

	state atomic.Int32

	mu   sync.Mutex // guards done across restarts
	done chan struct{}
}

// NewScheduler builds a scheduler over queue whose critical phase runs
// sweep once per cycle.
func NewScheduler(cfg *Config, queue *TaskQueue, sweep Task) *Scheduler {
	return &Scheduler{
		queue:      queue,
		sweep:      sweep,
		cycle:      cfg.Cycle(),
		ncBudget:   cfg.NonCriticalBudget(),
		critBudget: cfg.CriticalBudget(),
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine. Starting a scheduler that is not
// stopped is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(schedStopped, schedRunning) {
		return errAlreadyRunning
	}
	s.done = make(chan struct{})
	go s.run(s.done)
	return nil
}

// Stop requests a cooperative stop. No in-flight task is interrupted; the
// current cycle completes and the worker exits at the top of the next one.
// Stop returns immediately; use Done to wait.
func (s *Scheduler) Stop() {
	s.state.CompareAndSwap(schedRunning, schedStopRequested)
}

// Done returns a channel closed once the worker launched by the matching
// Start has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Running reports whether the worker is accepting cycles.
func (s *Scheduler) Running() bool {
	return s.state.Load() == schedRunning
}

// Serve runs the scheduler under a suture supervisor. It stops the worker
// when ctx is canceled and waits for the in-flight cycle to complete.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	done := s.Done()
	select {
	case <-ctx.Done():
		s.Stop()
		<-done
		return ctx.Err()
	case <-done:
		// Stopped explicitly through the API; not a crash.
		return suture.ErrDoNotRestart
	}
}

func (s *Scheduler) run(done chan struct{}) {
	defer close(done)
	defer s.state.Store(schedStopped)

	// Cycle anchors. Advanced by exactly one cycle at the end of each
	// round regardless of actual elapsed time. Under sustained overload
	// deadlineNC falls into the past and only the sweep runs.
	deadlineNC := time.Now().Add(s.ncBudget)
	deadlineCrit := deadlineNC.Add(s.critBudget)

	for s.state.Load() == schedRunning {
		s.nonCriticalPhase(deadlineNC)

		if time.Now().Add(s.sweep.WorstCase).Before(deadlineCrit) {
			s.runTask(s.sweep)
			metricSweeps.Inc()
		} else {
			log.Warn("not enough time left in cycle, skipping critical sweep")
			metricSweepsSkipped.Inc()
		}

		metricCycles.Inc()
		metricQueueDepth.Set(float64(s.queue.Len()))

		// Pace the loop to the cycle boundary. Without this a cycle whose
		// band ends early (deferred head task) would spin and push the
		// anchors ahead of the clock, defeating admission control.
		if wait := time.Until(deadlineCrit); wait > 0 {
			time.Sleep(wait)
		}

		deadlineNC = deadlineNC.Add(s.cycle)
		deadlineCrit = deadlineCrit.Add(s.cycle)
	}
}

// nonCriticalPhase drains queued tasks until the band deadline passes, the
// queue wait times out, or the next task will not fit.
func (s *Scheduler) nonCriticalPhase(deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		task, ok := s.queue.GetWithTimeout(remaining)
		if !ok {
			return
		}
		if time.Now().Add(task.WorstCase).Before(deadline) {
			s.queue.Release()
			s.runTask(task)
			metricTasksExecuted.Inc()
			continue
		}
		// No room left this cycle; retry the task next cycle.
		s.queue.Requeue(task)
		metricTasksDeferred.Inc()
		return
	}
}

// runTask executes a task to completion. A panicking task is logged and
// never aborts the worker.
func (s *Scheduler) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("task", t.Name).Errorf("task panicked: %v", r)
		}
	}()
	t.Fn()
}
