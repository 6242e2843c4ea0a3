package jobs

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/psionic-labs/psionic/internal/aggregator"
	"github.com/psionic-labs/psionic/internal/logger"
)

// ErrJobNotFound is returned on a JobCommand's reply channel when the
// requested job name is absent from the loaded JobsConfiguration.
var ErrJobNotFound = errors.New("job not found")

// Result is sent back on a JobCommand's reply channel. SetID identifies
// the whole dispatched action set: one set id per JobCommand, with each
// submitted action getting its own id and registering individually with
// the aggregator.
type Result struct {
	SetID uuid.UUID
	Err   error
}

// JobCommand asks the Orchestrator to start a named job. Reply may be
// nil for fire-and-forget callers; when non-nil the orchestrator sends
// it exactly one Result without blocking, so the Result is dropped if
// the channel has no free buffer slot and no waiting receiver.
type JobCommand struct {
	Name  string
	Args  []string
	Reply chan<- Result
}

// Orchestrator is the single consumer of the job-command channel. It
// resolves a job name to its configured action list, assigns ids, and
// fans the actions out to the worker Pool, registering each one with
// the Aggregator.
type Orchestrator struct {
	ch       chan JobCommand
	configs  JobsConfiguration
	pool     *Pool
	agg      *aggregator.Aggregator
	log      logger.Logger
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Start spawns the orchestrator's consumer goroutine.
func Start(configs JobsConfiguration, pool *Pool, agg *aggregator.Aggregator, log logger.Logger, queueSize int) *Orchestrator {
	if queueSize <= 0 {
		queueSize = 256
	}
	o := &Orchestrator{
		ch:      make(chan JobCommand, queueSize),
		configs: configs,
		pool:    pool,
		agg:     agg,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// Channel returns the send-only handle route handlers use to start jobs.
func (o *Orchestrator) Channel() chan<- JobCommand {
	return o.ch
}

// Stop halts the orchestrator's consumer loop. Safe to call multiple
// times.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stop)
		<-o.done
	})
}

func (o *Orchestrator) run() {
	defer close(o.done)

	for {
		select {
		case <-o.stop:
			return
		case cmd := <-o.ch:
			o.handle(cmd)
		}
	}
}

func (o *Orchestrator) handle(cmd JobCommand) {
	cfg, ok := o.configs.Jobs[cmd.Name]
	if !ok {
		o.log.Error("orchestrator", "Job %q not found", cmd.Name)
		o.reply(cmd.Reply, Result{Err: ErrJobNotFound})
		return
	}

	setID := uuid.New()
	o.log.Info("orchestrator", "Job %q received. Assigned set id: %s", cmd.Name, setID)

	for _, action := range cfg.Actions {
		actionID := uuid.New()
		handler := buildHandler(action, cmd.Args)

		// Register with the aggregator before handing the action to the
		// pool: FIFO delivery on the aggregator's channel only guarantees
		// NewJobSet precedes CompletedJob if NewJobSet is sent first. If
		// Execute fails the action never runs, so undo the registration.
		o.agg.SendJobs(actionID)
		if err := o.pool.Execute(actionID, handler); err != nil {
			o.log.Error("orchestrator", "Failed to submit action %s of job %q: %v", actionID, cmd.Name, err)
			o.agg.CompleteJob(actionID)
			continue
		}
	}

	o.reply(cmd.Reply, Result{SetID: setID})
}

func (o *Orchestrator) reply(ch chan<- Result, res Result) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
