// Package metrics exposes the Prometheus collectors shared across the
// job worker pool, the connection worker pool, and the aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobQueueDepth tracks the current depth of the job worker pool's
	// task queue.
	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "psionic",
		Name:      "job_pool_queue_depth",
		Help:      "Current number of queued job actions awaiting a worker",
	})

	// JobsCompletedTotal counts job actions that ran to completion
	// without error.
	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "psionic",
		Name:      "job_pool_jobs_completed_total",
		Help:      "Total number of job actions completed successfully",
	})

	// JobsFailedTotal counts job actions that returned an error or
	// panicked.
	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "psionic",
		Name:      "job_pool_jobs_failed_total",
		Help:      "Total number of job actions that failed or panicked",
	})

	// OutstandingJobsGauge mirrors the aggregator's outstanding-jobs set
	// size.
	OutstandingJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "psionic",
		Name:      "aggregator_outstanding_jobs",
		Help:      "Current size of the aggregator's outstanding-jobs set",
	})

	// ConnectionQueueDepth tracks the current depth of the connection
	// worker pool's task queue.
	ConnectionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "psionic",
		Name:      "connection_pool_queue_depth",
		Help:      "Current number of queued connection closures awaiting a worker",
	})

	// ConnectionsRejectedTotal counts connection closures rejected
	// because the connection pool's queue was full.
	ConnectionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "psionic",
		Name:      "connection_pool_rejected_total",
		Help:      "Total number of connections rejected due to a full connection queue",
	})

	// CommandExitStatusTotal counts command-route and command-action
	// invocations by whether the spawned process exited zero.
	CommandExitStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "psionic",
		Name:      "command_exit_status_total",
		Help:      "Total number of external process invocations by exit outcome",
	}, []string{"status"})
)
