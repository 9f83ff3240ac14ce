package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/masayang/sqsd/internal/common/metrics"
	"github.com/masayang/sqsd/internal/queue"
	"github.com/masayang/sqsd/internal/task"
)

const (
	// DefaultPopWait bounds how long a worker blocks on an empty job queue
	// before re-checking its shutdown flag
	DefaultPopWait = time.Second

	// DefaultDrainTimeout bounds the graceful shutdown window before the
	// supervisor escalates to forced termination
	DefaultDrainTimeout = 30 * time.Second

	respawnBurst = 10
)

// Config holds supervisor configuration
type Config struct {
	// QueuePrefixes are the queue names or wildcard patterns to consume from
	QueuePrefixes []string

	// WorkerConcurrency is the number of worker processes (>= 1)
	WorkerConcurrency int

	// Interval is the supervisor poll interval, the reader empty-queue
	// backoff, and the transient-error retry delay
	Interval time.Duration

	// BatchSize is the maximum messages per receive call
	BatchSize int

	// PopWait bounds worker blocking on an empty job queue
	PopWait time.Duration

	// DrainTimeout bounds the graceful shutdown window
	DrainTimeout time.Duration

	// DeleteMalformed deletes unresolvable messages instead of leaving them
	// for redelivery (poison-message mitigation without a dead-letter queue)
	DeleteMalformed bool
}

func (c *Config) normalize() error {
	if len(c.QueuePrefixes) == 0 {
		return fmt.Errorf("at least one queue prefix is required")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.PopWait <= 0 {
		c.PopWait = DefaultPopWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return nil
}

// child is the common surface of reader and worker processes
type child interface {
	Start()
	Shutdown()
	Done() <-chan struct{}
	Alive() bool
}

// Supervisor spawns, monitors, and replaces reader and worker children. It is
// the sole mutator of the child lists; children communicate only through the
// internal job queue.
type Supervisor struct {
	cfg      Config
	svc      queue.Service
	registry *task.Registry
	jobs     *JobQueue
	logger   zerolog.Logger

	mu      sync.Mutex
	readers []*Reader
	workers []*Worker

	hardCtx    context.Context
	hardCancel context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once

	// Damps crash-loops: a permanently broken child is still replaced, but
	// at a bounded rate
	respawn *rate.Limiter
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger injects the observability sink; defaults to the global logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// New discovers queues for the given prefixes and builds one reader per
// discovered queue plus WorkerConcurrency workers. No processes are spawned
// until Start. A discovery failure is fatal and aborts construction.
func New(ctx context.Context, svc queue.Service, registry *task.Registry, cfg Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}

	s := &Supervisor{
		cfg:      cfg,
		svc:      svc,
		registry: registry,
		logger:   log.Logger,
		shutdown: make(chan struct{}),
		respawn:  rate.NewLimiter(rate.Every(100*time.Millisecond), respawnBurst),
	}
	for _, opt := range opts {
		opt(s)
	}

	queues, err := queue.Discover(ctx, svc, cfg.QueuePrefixes, s.logger)
	if err != nil {
		return nil, fmt.Errorf("queue discovery failed: %w", err)
	}

	s.jobs = NewJobQueue(cfg.WorkerConcurrency * cfg.BatchSize)
	s.hardCtx, s.hardCancel = context.WithCancel(context.Background())

	s.readers = make([]*Reader, 0, len(queues))
	for _, q := range queues {
		s.readers = append(s.readers, s.newReader(q))
	}
	s.workers = make([]*Worker, 0, cfg.WorkerConcurrency)
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		s.workers = append(s.workers, s.newWorker())
	}

	s.logger.Info().
		Int("readers", len(s.readers)).
		Int("workers", len(s.workers)).
		Int("jobQueueCapacity", s.jobs.Cap()).
		Strs("prefixes", cfg.QueuePrefixes).
		Msg("Supervisor constructed")

	return s, nil
}

func (s *Supervisor) newReader(q queue.Queue) *Reader {
	return newReader(q, s.svc, s.jobs, s.cfg.BatchSize, s.cfg.Interval, s.hardCtx, s.logger)
}

func (s *Supervisor) newWorker() *Worker {
	return newWorker(s.jobs, s.svc, s.registry, s.cfg.PopWait, s.cfg.DeleteMalformed, s.hardCtx, s.logger)
}

// Start spawns all reader and worker processes
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.readers {
		r.Start()
	}
	for _, w := range s.workers {
		w.Start()
	}

	metrics.ReadersAlive.Set(float64(len(s.readers)))
	metrics.WorkersAlive.Set(float64(len(s.workers)))

	s.logger.Info().
		Int("readers", len(s.readers)).
		Int("workers", len(s.workers)).
		Msg("Supervisor started")
}

// ProcessCounts logs the child process counts at debug level. The two log
// lines are a compatibility contract for external monitors; their literal
// text and order must not change.
func (s *Supervisor) ProcessCounts() {
	s.mu.Lock()
	readers := len(s.readers)
	workers := len(s.workers)
	readersAlive := 0
	for _, r := range s.readers {
		if r.Alive() {
			readersAlive++
		}
	}
	workersAlive := 0
	for _, w := range s.workers {
		if w.Alive() {
			workersAlive++
		}
	}
	s.mu.Unlock()

	metrics.ReadersAlive.Set(float64(readersAlive))
	metrics.WorkersAlive.Set(float64(workersAlive))

	s.logger.Debug().Msg(fmt.Sprintf("Reader Processes: %d", readers))
	s.logger.Debug().Msg(fmt.Sprintf("Worker Processes: %d", workers))
}

// ReplaceWorkers respawns every dead child, preserving the queue binding for
// readers and updating each descriptor's process identity in place.
func (s *Supervisor) ReplaceWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked under the lock: Stop closes the flag before it snapshots the
	// child lists, so a replacement spawned here is either in Stop's snapshot
	// or never spawned at all.
	select {
	case <-s.shutdown:
		return
	default:
	}

	for i, r := range s.readers {
		if r.Alive() {
			continue
		}
		if !s.respawn.Allow() {
			s.logger.Warn().Msg("Respawn rate limit reached, deferring replacements to next interval")
			return
		}
		replacement := s.newReader(r.Queue())
		replacement.Start()
		s.readers[i] = replacement
		metrics.ChildRespawns.WithLabelValues("reader").Inc()
		s.logger.Warn().
			Str("queue", r.Queue().Name).
			Str("oldProcessId", r.ID().String()).
			Str("newProcessId", replacement.ID().String()).
			Msg("Replaced dead reader process")
	}

	for i, w := range s.workers {
		if w.Alive() {
			continue
		}
		if !s.respawn.Allow() {
			s.logger.Warn().Msg("Respawn rate limit reached, deferring replacements to next interval")
			return
		}
		replacement := s.newWorker()
		replacement.Start()
		s.workers[i] = replacement
		metrics.ChildRespawns.WithLabelValues("worker").Inc()
		s.logger.Warn().
			Str("oldProcessId", w.ID().String()).
			Str("newProcessId", replacement.ID().String()).
			Msg("Replaced dead worker process")
	}
}

// RequestShutdown flips the cooperative shutdown flag, waking Sleep. Safe to
// call multiple times; only the first has any effect.
func (s *Supervisor) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// Sleep is the supervisor wait loop. It wakes every interval to log process
// counts and replace dead children, until shutdown is requested, then
// performs exactly one graceful shutdown and returns.
func (s *Supervisor) Sleep() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			s.Stop()
			return
		case <-ticker.C:
			s.ProcessCounts()
			s.ReplaceWorkers()
		}
	}
}

// Stop signals shutdown to every child and waits a bounded drain window for
// all of them to terminate. If the window elapses, remaining children are
// forcibly terminated through the hard-stop context. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(s.doStop)
}

func (s *Supervisor) doStop() {
	s.RequestShutdown()

	s.mu.Lock()
	children := make([]child, 0, len(s.readers)+len(s.workers))
	for _, r := range s.readers {
		children = append(children, r)
	}
	for _, w := range s.workers {
		children = append(children, w)
	}
	s.mu.Unlock()

	s.logger.Info().
		Int("children", len(children)).
		Dur("drainTimeout", s.cfg.DrainTimeout).
		Msg("Stopping supervisor, draining children")

	for _, c := range children {
		c.Shutdown()
	}

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()

	forced := false
	for _, c := range children {
		if forced {
			waitChild(c, 5*time.Second, s.logger)
			continue
		}
		select {
		case <-c.Done():
		case <-timer.C:
			// Escalation is loud, never silent success
			s.logger.Error().Msg("Drain window elapsed, forcing termination of remaining children")
			s.hardCancel()
			forced = true
			waitChild(c, 5*time.Second, s.logger)
		}
	}

	s.hardCancel()

	// Gauges reflect what actually terminated; an abandoned child stays
	// visible in metrics, not just in the escalation log.
	s.mu.Lock()
	readersAlive, workersAlive := 0, 0
	for _, r := range s.readers {
		if r.Alive() {
			readersAlive++
		}
	}
	for _, w := range s.workers {
		if w.Alive() {
			workersAlive++
		}
	}
	s.mu.Unlock()
	metrics.ReadersAlive.Set(float64(readersAlive))
	metrics.WorkersAlive.Set(float64(workersAlive))

	s.logger.Info().Msg("Supervisor stopped")
}

// waitChild waits briefly for a child after forced termination. A child stuck
// in a task that ignores cancellation cannot be reclaimed; only the OS
// process boundary could recover it.
func waitChild(c child, grace time.Duration, logger zerolog.Logger) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.Done():
	case <-timer.C:
		logger.Error().Msg("Child did not terminate after forced termination, abandoning")
	}
}

// Readers returns the current reader descriptors in order
func (s *Supervisor) Readers() []*Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Reader, len(s.readers))
	copy(out, s.readers)
	return out
}

// Workers returns the current worker descriptors in order
func (s *Supervisor) Workers() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Worker, len(s.workers))
	copy(out, s.workers)
	return out
}

// JobQueue exposes the internal job queue for introspection
func (s *Supervisor) JobQueue() *JobQueue { return s.jobs }
