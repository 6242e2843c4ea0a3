package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psionic-labs/psionic/internal/aggregator"
	"github.com/psionic-labs/psionic/internal/logger"
	"github.com/psionic-labs/psionic/internal/metrics"
)

// job is one submitted unit of work: an id and the handler that
// performs the action associated with it.
type job struct {
	id      uuid.UUID
	handler Handler
}

// Pool is a fixed-size pool of worker goroutines sharing one bounded
// task queue: each worker ranges over the same channel until it is
// closed, picking up one job action at a time.
type Pool struct {
	size            int
	queue           chan job
	agg             *aggregator.Aggregator
	log             logger.Logger
	wg              sync.WaitGroup
	startOnce       sync.Once
	stopOnce        sync.Once
	shutdownTimeout time.Duration
}

// NewPool creates a job worker pool. size and queueSize fall back to
// sane defaults (4 workers, a queue ten times that) when given as zero
// or negative.
func NewPool(size, queueSize int, shutdownTimeout time.Duration, agg *aggregator.Aggregator, log logger.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if queueSize <= 0 {
		queueSize = 40
	}

	return &Pool{
		size:            size,
		queue:           make(chan job, queueSize),
		agg:             agg,
		log:             log,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start spawns the worker goroutines. Safe to call more than once; only
// the first call has effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.log.Info("job-pool", "Starting job worker pool with %d workers", p.size)
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop closes the task queue and waits (up to shutdownTimeout) for
// in-flight actions to finish. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info("job-pool", "Stopping job worker pool")
		close(p.queue)

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		select {
		case <-done:
			p.log.Info("job-pool", "Job worker pool stopped")
		case <-time.After(p.shutdownTimeout):
			p.log.Warn("job-pool", "Job worker pool stop timed out after %v", p.shutdownTimeout)
		}
	})
}

// QueueDepth returns the current number of queued (not yet picked up)
// actions.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Execute submits a new action for execution. Returns an error if the
// queue is full (back-pressure) rather than blocking the caller.
func (p *Pool) Execute(id uuid.UUID, handler Handler) error {
	select {
	case p.queue <- job{id: id, handler: handler}:
		metrics.JobQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.log.Warn("job-pool", "Job queue full: rejecting action %s", id)
		return fmt.Errorf("job pool queue full (capacity: %d)", cap(p.queue))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	name := fmt.Sprintf("job-worker-%d", id)
	p.log.Info(name, "Worker started")

	for j := range p.queue {
		metrics.JobQueueDepth.Set(float64(len(p.queue)))
		p.log.Info(name, "Job received. id: %s", j.id)

		result, err := invoke(j.handler, j.id)
		if err != nil {
			p.log.Error(name, "Job %s failed: %v", j.id, err)
			metrics.JobsFailedTotal.Inc()
		} else {
			p.log.Success(name, "Job %s complete. Result: %s", j.id, result)
			metrics.JobsCompletedTotal.Inc()
		}

		// Report completion even on failure or panic so the outstanding
		// set still drains.
		p.agg.CompleteJob(j.id)
	}

	p.log.Info(name, "Worker stopped")
}

// invoke runs a handler, converting a panic into an error so one bad
// action can never take down a worker goroutine.
func invoke(h Handler, id uuid.UUID) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()
	return h(id)
}
