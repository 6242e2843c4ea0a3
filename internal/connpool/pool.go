// Package connpool implements the fixed-size pool of connection workers
// described in §4.6: a bounded task queue shared by a fixed number of
// worker goroutines, each of which takes one closure at a time, invokes
// it, and loops back for the next one.
package connpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/psionic-labs/psionic/internal/logger"
	"github.com/psionic-labs/psionic/internal/metrics"
)

// Task is one unit of connection work: read one request, route it,
// write one response. The pool treats it as an opaque closure.
type Task func()

// Pool is a fixed-size pool of worker goroutines sharing one bounded
// task queue, directly adapted from the job worker pool's
// shared-receiver-channel discipline (internal/jobs.Pool) but carrying
// arbitrary closures instead of (id, Handler) pairs.
type Pool struct {
	size            int
	queue           chan Task
	log             logger.Logger
	wg              sync.WaitGroup
	startOnce       sync.Once
	stopOnce        sync.Once
	shutdownTimeout time.Duration
}

// NewPool creates a connection worker pool. size and queueSize fall
// back to sane defaults (4 workers, a queue ten times that) when given
// as zero or negative.
func NewPool(size, queueSize int, shutdownTimeout time.Duration, log logger.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if queueSize <= 0 {
		queueSize = 40
	}

	return &Pool{
		size:            size,
		queue:           make(chan Task, queueSize),
		log:             log,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start spawns the worker goroutines. Safe to call more than once; only
// the first call has effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.log.Info("conn-pool", "Starting connection worker pool with %d workers", p.size)
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop closes the task queue and waits (up to shutdownTimeout) for
// in-flight closures to finish. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info("conn-pool", "Stopping connection worker pool")
		close(p.queue)

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		select {
		case <-done:
			p.log.Info("conn-pool", "Connection worker pool stopped")
		case <-time.After(p.shutdownTimeout):
			p.log.Warn("conn-pool", "Connection worker pool stop timed out after %v", p.shutdownTimeout)
		}
	})
}

// QueueDepth returns the current number of queued (not yet picked up)
// closures.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Execute submits a closure for execution by the next free worker.
// Returns an error if the queue is full (back-pressure) rather than
// blocking the caller; callers surface this as a 503.
func (p *Pool) Execute(task Task) error {
	select {
	case p.queue <- task:
		metrics.ConnectionQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.ConnectionsRejectedTotal.Inc()
		p.log.Warn("conn-pool", "Connection queue full: rejecting task")
		return fmt.Errorf("connection pool queue full (capacity: %d)", cap(p.queue))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	name := fmt.Sprintf("conn-worker-%d", id)
	p.log.Info(name, "Worker started")

	for task := range p.queue {
		metrics.ConnectionQueueDepth.Set(float64(len(p.queue)))
		p.log.Debug(name, "Task received")
		invoke(p.log, name, task)
	}

	p.log.Info(name, "Worker stopped")
}

// invoke runs a task, converting a panic into a logged error so one bad
// connection can never take down a worker goroutine.
func invoke(log logger.Logger, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(name, "panic handling connection: %v", r)
		}
	}()
	task()
}
