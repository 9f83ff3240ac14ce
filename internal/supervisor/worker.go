package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/masayang/sqsd/internal/common/metrics"
	"github.com/masayang/sqsd/internal/queue"
	"github.com/masayang/sqsd/internal/task"
)

// Worker is a child process that pops messages off the internal job queue,
// resolves them through the task registry, and deletes each message from its
// remote queue after the task executes successfully.
type Worker struct {
	id              uuid.UUID
	jobs            *JobQueue
	svc             queue.Service
	registry        *task.Registry
	popWait         time.Duration
	deleteMalformed bool
	logger          zerolog.Logger

	hardCtx  context.Context
	started  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newWorker(jobs *JobQueue, svc queue.Service, registry *task.Registry, popWait time.Duration, deleteMalformed bool, hardCtx context.Context, logger zerolog.Logger) *Worker {
	id := uuid.New()
	return &Worker{
		id:              id,
		jobs:            jobs,
		svc:             svc,
		registry:        registry,
		popWait:         popWait,
		deleteMalformed: deleteMalformed,
		logger: logger.With().
			Str("role", "worker").
			Str("processId", id.String()).
			Logger(),
		hardCtx: hardCtx,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the process identity; a replacement gets a fresh one
func (w *Worker) ID() uuid.UUID { return w.id }

// Alive reports whether the worker process is running
func (w *Worker) Alive() bool {
	if !w.started.Load() {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Start spawns the worker process
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

// Shutdown requests cooperative termination. The worker finishes any
// in-flight execution, then exits.
func (w *Worker) Shutdown() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Done is closed when the worker process has terminated
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) run() {
	defer close(w.done)

	w.logger.Debug().Msg("Worker process started")

	for {
		select {
		case <-w.quit:
			w.logger.Debug().Msg("Worker process shutting down")
			return
		case <-w.hardCtx.Done():
			return
		default:
		}

		msg, ok := w.jobs.Pop(w.popWait)
		if !ok {
			continue
		}

		w.process(msg)
	}
}

func (w *Worker) process(msg queue.Message) {
	handler, args, err := w.registry.Resolve(msg.Body)
	if err != nil {
		metrics.TasksProcessed.WithLabelValues(msg.Queue.Name, "malformed").Inc()
		w.logger.Error().
			Err(err).
			Str("messageId", msg.ID).
			Str("queue", msg.Queue.Name).
			Bool("deleted", w.deleteMalformed).
			Msg("Unresolvable message")

		// Redelivery of poison messages is an explicit policy choice: left
		// for the dead-letter mechanism unless deleteMalformed is set.
		if w.deleteMalformed {
			w.delete(msg)
		}
		return
	}

	start := time.Now()
	err = w.invoke(handler, args)
	metrics.TaskDuration.WithLabelValues(msg.Queue.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TasksProcessed.WithLabelValues(msg.Queue.Name, "failed").Inc()
		w.logger.Error().
			Err(err).
			Str("messageId", msg.ID).
			Str("queue", msg.Queue.Name).
			Msg("Task failed, message left for redelivery")
		return
	}

	metrics.TasksProcessed.WithLabelValues(msg.Queue.Name, "success").Inc()
	if w.delete(msg) {
		w.logger.Debug().
			Str("messageId", msg.ID).
			Str("queue", msg.Queue.Name).
			Dur("duration", time.Since(start)).
			Msg("Task processed and message deleted")
	}
}

// invoke runs a task handler, converting a panic into a task failure
func (w *Worker) invoke(handler task.Handler, args []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return handler(w.hardCtx, args)
}

func (w *Worker) delete(msg queue.Message) bool {
	if err := w.svc.Delete(w.hardCtx, msg.Queue, msg.ReceiptHandle); err != nil {
		// The task already ran; after the visibility timeout the message is
		// redelivered and executed again. At-least-once requires idempotent
		// tasks for exactly this case.
		w.logger.Warn().
			Err(err).
			Str("messageId", msg.ID).
			Str("queue", msg.Queue.Name).
			Msg("Failed to delete message, it will be redelivered")
		return false
	}
	metrics.MessagesDeleted.WithLabelValues(msg.Queue.Name).Inc()
	return true
}
