// Package scheduler implements the "scheduler" collaborator capability the
// core packages depend on: a single-threaded cooperative main loop plus a
// bounded worker pool, matching spec.md §5/§6 exactly (schedule-on-main,
// spawn-worker(job, completion), and an "am I on the main thread" check).
//
// In a production RFB server this would be satisfied by the surrounding
// session/event-loop layer (out of scope per spec.md §1); Scheduler is the
// reference implementation used by this module's own tests and its
// cmd/displayd demo.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/displaycore/internal/logging"
)

var log = logging.L("scheduler")

// Job is a unit of work executed off the main thread by the worker pool.
type Job func()

// Completion is posted back to the main loop once a Job finishes, whether
// or not it panicked.
type Completion func()

// Scheduler is a bounded goroutine pool (the spec's worker pool) paired
// with a single-consumer main queue (the spec's main scheduler). Main-queue
// tasks, including every completion callback, run strictly in the order
// they were posted and only while Run is executing.
type Scheduler struct {
	maxWorkers int
	workQueue  chan Job
	mainQueue  chan func()

	wg        sync.WaitGroup
	accepting atomic.Bool
	onMain    atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}
}

// New creates a Scheduler with maxWorkers goroutines servicing a work queue
// of workQueueSize and a main queue of mainQueueSize posted callbacks.
func New(maxWorkers, workQueueSize, mainQueueSize int) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if workQueueSize < 1 {
		workQueueSize = 1
	}
	if mainQueueSize < 1 {
		mainQueueSize = 1
	}

	s := &Scheduler{
		maxWorkers: maxWorkers,
		workQueue:  make(chan Job, workQueueSize),
		mainQueue:  make(chan func(), mainQueueSize),
		stopChan:   make(chan struct{}),
	}
	s.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go s.worker()
	}

	log.Info("scheduler started", "workers", maxWorkers, "workQueue", workQueueSize, "mainQueue", mainQueueSize)
	return s
}

// Run drains the main queue on the calling goroutine until ctx is done or
// Stop is called. Every posted callback runs on the calling goroutine;
// IsMainThread reports true only while Run is actively invoking one.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case fn := <-s.mainQueue:
			s.runMain(fn)
		}
	}
}

func (s *Scheduler) runMain(fn func()) {
	s.onMain.Store(true)
	defer s.onMain.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error("main task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// IsMainThread reports whether Run is currently invoking a posted callback.
// It is a single shared flag, not a per-goroutine check: while a main-queue
// callback is running it reports true on every goroutine, including worker
// goroutines. No package in this module calls it outside tests.
func (s *Scheduler) IsMainThread() bool {
	return s.onMain.Load()
}

// PostMain schedules fn to run on the main loop. It never blocks the
// caller for more than enqueueing; if the main queue is full the call
// blocks until space is available, matching the teacher's bias towards
// never dropping a completion callback silently.
func (s *Scheduler) PostMain(fn func()) {
	select {
	case s.mainQueue <- fn:
	case <-s.stopChan:
	}
}

// SpawnWorker submits job to the worker pool, blocking while the work
// queue is full. Once job returns (or panics), completion is posted to the
// main loop. Returns false if the scheduler is no longer accepting work or
// has been stopped, in which case neither job nor completion runs.
func (s *Scheduler) SpawnWorker(job Job, completion Completion) bool {
	if !s.accepting.Load() {
		return false
	}

	s.wg.Add(1)
	task := Job(func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("worker job panicked", "panic", r, "stack", string(debug.Stack()))
			}
			if completion != nil {
				s.PostMain(completion)
			}
		}()
		job()
	})

	select {
	case s.workQueue <- task:
		return true
	case <-s.stopChan:
		s.wg.Done()
		return false
	}
}

// StopAccepting prevents new worker jobs from being submitted.
func (s *Scheduler) StopAccepting() {
	s.accepting.Store(false)
}

// Drain waits for all in-flight and queued worker jobs to finish, bounded
// by ctx. Call StopAccepting first so no new jobs arrive underneath Drain.
func (s *Scheduler) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("scheduler drained")
	case <-ctx.Done():
		log.Warn("scheduler drain timed out")
	}
}

// Stop halts the main loop (Run returns) and the worker goroutines. Call
// Drain first if outstanding jobs must be allowed to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Scheduler) worker() {
	for {
		select {
		case job, ok := <-s.workQueue:
			if !ok {
				return
			}
			job()
		case <-s.stopChan:
			return
		}
	}
}
