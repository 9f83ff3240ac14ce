package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/masayang/sqsd/internal/common/metrics"
	"github.com/masayang/sqsd/internal/queue"
)

// Reader is a child process bound to a single remote queue. It polls in
// batches and pushes every received message onto the internal job queue,
// blocking when the queue is full.
type Reader struct {
	id        uuid.UUID
	queue     queue.Queue
	svc       queue.Service
	jobs      *JobQueue
	batchSize int
	interval  time.Duration
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger

	hardCtx  context.Context
	started  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newReader(q queue.Queue, svc queue.Service, jobs *JobQueue, batchSize int, interval time.Duration, hardCtx context.Context, logger zerolog.Logger) *Reader {
	id := uuid.New()
	childLogger := logger.With().
		Str("role", "reader").
		Str("processId", id.String()).
		Str("queue", q.Name).
		Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "receive:" + q.Name,
		OnStateChange: func(name string, from, to gobreaker.State) {
			childLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Receive circuit breaker state changed")
		},
	})

	return &Reader{
		id:        id,
		queue:     q,
		svc:       svc,
		jobs:      jobs,
		batchSize: batchSize,
		interval:  interval,
		breaker:   breaker,
		logger:    childLogger,
		hardCtx:   hardCtx,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the process identity; a replacement gets a fresh one
func (r *Reader) ID() uuid.UUID { return r.id }

// Queue returns the bound queue
func (r *Reader) Queue() queue.Queue { return r.queue }

// Alive reports whether the reader process is running
func (r *Reader) Alive() bool {
	if !r.started.Load() {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Start spawns the reader process
func (r *Reader) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
}

// Shutdown requests cooperative termination. The reader finishes pushing its
// current batch, then exits.
func (r *Reader) Shutdown() {
	r.quitOnce.Do(func() { close(r.quit) })
}

// Done is closed when the reader process has terminated
func (r *Reader) Done() <-chan struct{} { return r.done }

func (r *Reader) run() {
	defer close(r.done)

	r.logger.Debug().Msg("Reader process started")

	for {
		select {
		case <-r.quit:
			r.logger.Debug().Msg("Reader process shutting down")
			return
		case <-r.hardCtx.Done():
			return
		default:
		}

		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.svc.ReceiveBatch(r.hardCtx, r.queue, r.batchSize)
		})
		if err != nil {
			if r.hardCtx.Err() != nil {
				return
			}
			if queue.IsPermanent(err) {
				// Respawned by the supervisor; a persistently misconfigured
				// queue shows up as a crash-loop, not a silent retry loop.
				metrics.ReceiveErrors.WithLabelValues(r.queue.Name, "permanent").Inc()
				r.logger.Error().Err(err).Msg("Permanent receive error, reader terminating")
				return
			}
			metrics.ReceiveErrors.WithLabelValues(r.queue.Name, "transient").Inc()
			r.logger.Warn().Err(err).Msg("Transient receive error, retrying after interval")
			r.sleep(r.interval)
			continue
		}

		messages := out.([]queue.Message)
		if len(messages) == 0 {
			r.sleep(r.interval)
			continue
		}

		metrics.MessagesReceived.WithLabelValues(r.queue.Name).Add(float64(len(messages)))

		// The whole batch is pushed even after a shutdown request; these
		// messages are already invisible on the remote side.
		for _, m := range messages {
			if err := r.jobs.Push(r.hardCtx, m); err != nil {
				return
			}
		}
	}
}

// sleep waits for d, waking early on shutdown
func (r *Reader) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-r.quit:
	case <-r.hardCtx.Done():
	}
}
