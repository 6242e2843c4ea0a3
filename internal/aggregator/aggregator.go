// Package aggregator implements the single owner of the outstanding-jobs
// set. It is the authoritative tracker of in-flight job lifecycles: every
// action submitted to the job worker pool registers here exactly once,
// and is removed exactly once when it completes.
package aggregator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/psionic-labs/psionic/internal/logger"
	"github.com/psionic-labs/psionic/internal/metrics"
)

type messageKind int

const (
	msgNewJobSet messageKind = iota
	msgProgressReport
	msgCompletedJob
)

type message struct {
	kind messageKind
	id   uuid.UUID
}

// backoff is how long the consumer loop waits for a message before it
// logs that none arrived and checks again. The receive itself blocks, so
// a message is handled as soon as it is sent, not after the backoff.
const backoff = 1000 * time.Millisecond

// Aggregator owns the outstanding-jobs set and exposes three
// fire-and-forget operations over a channel. Its state is never touched
// outside the consumer goroutine.
type Aggregator struct {
	ch          chan message
	outstanding *atomic.Int64
	log         logger.Logger
	stopOnce    sync.Once
	stop        chan struct{}
	done        chan struct{}
}

// Start spawns the aggregator's consumer goroutine and returns the
// handle used to send it lifecycle events.
func Start(log logger.Logger) *Aggregator {
	a := &Aggregator{
		ch:          make(chan message, 1024),
		outstanding: atomic.NewInt64(0),
		log:         log,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go a.run()
	return a
}

// SendJobs registers a new outstanding action id. Idempotent: sending the
// same id twice before it completes is a no-op (logged at warn).
func (a *Aggregator) SendJobs(id uuid.UUID) {
	select {
	case a.ch <- message{kind: msgNewJobSet, id: id}:
	case <-a.stop:
	}
}

// GetProgress asks the aggregator to log its current outstanding count.
func (a *Aggregator) GetProgress() {
	select {
	case a.ch <- message{kind: msgProgressReport}:
	case <-a.stop:
	}
}

// CompleteJob removes an id from the outstanding set. Removing an id
// that is not present is a no-op (logged at warn), never a failure.
func (a *Aggregator) CompleteJob(id uuid.UUID) {
	select {
	case a.ch <- message{kind: msgCompletedJob, id: id}:
	case <-a.stop:
	}
}

// OutstandingCount returns the current size of the outstanding-jobs set.
// Safe to call from any goroutine; backed by an atomic counter kept in
// sync with the map mutated inside the consumer loop.
func (a *Aggregator) OutstandingCount() int64 {
	return a.outstanding.Load()
}

// Stop halts the consumer loop. Safe to call multiple times.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
}

func (a *Aggregator) run() {
	defer close(a.done)

	jobs := make(map[uuid.UUID]struct{})

	a.log.Info("aggregator", "Aggregator running.")

	for {
		a.log.Debug("aggregator", "Checking for messages.")
		select {
		case <-a.stop:
			return
		case msg := <-a.ch:
			a.handle(jobs, msg)
		case <-time.After(backoff):
			a.log.Debug("aggregator", "No messages received.")
		}
	}
}

func (a *Aggregator) handle(jobs map[uuid.UUID]struct{}, msg message) {
	switch msg.kind {
	case msgNewJobSet:
		if _, exists := jobs[msg.id]; exists {
			a.log.Warn("aggregator", "Job %s already outstanding, ignoring duplicate registration.", msg.id)
			return
		}
		jobs[msg.id] = struct{}{}
		a.outstanding.Store(int64(len(jobs)))
		metrics.OutstandingJobsGauge.Set(float64(len(jobs)))
		a.log.Info("aggregator", "New job %s received. Outstanding jobs: %d", msg.id, len(jobs))
	case msgProgressReport:
		a.log.Info("aggregator", "Outstanding jobs: %d", len(jobs))
	case msgCompletedJob:
		if _, exists := jobs[msg.id]; !exists {
			a.log.Warn("aggregator", "Job %s completed but was not outstanding.", msg.id)
			return
		}
		delete(jobs, msg.id)
		a.outstanding.Store(int64(len(jobs)))
		metrics.OutstandingJobsGauge.Set(float64(len(jobs)))
		a.log.Success("aggregator", "Job %s complete. Outstanding jobs: %d", msg.id, len(jobs))
	}
}
