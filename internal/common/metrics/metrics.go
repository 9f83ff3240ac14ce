package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reader metrics

	// MessagesReceived tracks messages fetched from remote queues
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsd",
			Subsystem: "reader",
			Name:      "messages_received_total",
			Help:      "Total messages received from remote queues",
		},
		[]string{"queue"},
	)

	// ReceiveErrors tracks failed receive calls
	ReceiveErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsd",
			Subsystem: "reader",
			Name:      "receive_errors_total",
			Help:      "Total failed receive calls against remote queues",
		},
		[]string{"queue", "kind"}, // kind: transient, permanent
	)

	// Worker metrics

	// TasksProcessed tracks task executions by result
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsd",
			Subsystem: "worker",
			Name:      "tasks_processed_total",
			Help:      "Total task executions",
		},
		[]string{"queue", "result"}, // result: success, failed, malformed
	)

	// TaskDuration tracks task execution duration
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sqsd",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Time to execute a task",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// MessagesDeleted tracks successful acknowledgements
	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsd",
			Subsystem: "worker",
			Name:      "messages_deleted_total",
			Help:      "Total messages deleted after successful execution",
		},
		[]string{"queue"},
	)

	// Supervisor metrics

	// JobQueueDepth tracks messages buffered between readers and workers
	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sqsd",
			Subsystem: "supervisor",
			Name:      "job_queue_depth",
			Help:      "Messages buffered in the internal job queue",
		},
	)

	// ChildRespawns tracks dead children replaced by the supervisor
	ChildRespawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsd",
			Subsystem: "supervisor",
			Name:      "child_respawns_total",
			Help:      "Total dead child processes replaced",
		},
		[]string{"role"}, // role: reader, worker
	)

	// ReadersAlive tracks live reader children
	ReadersAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sqsd",
			Subsystem: "supervisor",
			Name:      "readers_alive",
			Help:      "Number of live reader processes",
		},
	)

	// WorkersAlive tracks live worker children
	WorkersAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sqsd",
			Subsystem: "supervisor",
			Name:      "workers_alive",
			Help:      "Number of live worker processes",
		},
	)
)
