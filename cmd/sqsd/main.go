// sqsd consumes jobs from remote message queues and executes them across a
// supervised pool of reader and worker processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/masayang/sqsd/internal/common/health"
	"github.com/masayang/sqsd/internal/common/lifecycle"
	"github.com/masayang/sqsd/internal/config"
	sqsqueue "github.com/masayang/sqsd/internal/queue/sqs"
	"github.com/masayang/sqsd/internal/supervisor"
	"github.com/masayang/sqsd/internal/task"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (overrides SQSD_CONFIG)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("SQSD_DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", version).
		Str("buildTime", buildTime).
		Msg("Starting sqsd")

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().
		Str("region", cfg.AWS.Region).
		Strs("prefixes", cfg.Queues.Prefixes).
		Msg("Connecting to AWS SQS")

	sqsClient, err := sqsqueue.NewClient(ctx, &sqsqueue.Config{
		Region:          cfg.AWS.Region,
		CustomEndpoint:  cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create SQS client")
		os.Exit(1)
	}

	registry := task.NewRegistry()
	registerTasks(registry)
	log.Info().Strs("tasks", registry.Names()).Msg("Task registry populated")

	sup, err := supervisor.New(ctx, sqsClient, registry, supervisor.Config{
		QueuePrefixes:     cfg.Queues.Prefixes,
		WorkerConcurrency: cfg.Worker.Concurrency,
		Interval:          cfg.Interval(),
		BatchSize:         cfg.Worker.BatchSize,
		DrainTimeout:      cfg.DrainTimeout(),
		DeleteMalformed:   cfg.Worker.DeleteMalformed,
	})
	if err != nil {
		// Unreachable remote service at discovery time is fatal
		log.Error().Err(err).Msg("Failed to construct supervisor")
		os.Exit(1)
	}

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck("sqs", func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return sqsClient.HealthCheck(checkCtx)
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/supervisor/status", func(w http.ResponseWriter, req *http.Request) {
		readers := sup.Readers()
		workers := sup.Workers()
		readersAlive, workersAlive := 0, 0
		for _, rd := range readers {
			if rd.Alive() {
				readersAlive++
			}
		}
		for _, wk := range workers {
			if wk.Alive() {
				workersAlive++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"readers":%d,"readersAlive":%d,"workers":%d,"workersAlive":%d,"jobQueueDepth":%d,"jobQueueCapacity":%d}`,
			len(readers), readersAlive, len(workers), workersAlive, sup.JobQueue().Len(), sup.JobQueue().Cap())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			os.Exit(1)
		}
	}()

	sup.Start()

	sleepDone := make(chan struct{})
	go func() {
		defer close(sleepDone)
		sup.Sleep()
	}()

	mgr := lifecycle.NewManager()
	mgr.SetShutdownTimeout(cfg.DrainTimeout() + 15*time.Second)
	mgr.OnDumpSignal(sup.ProcessCounts)
	mgr.RegisterHTTPShutdown("http", server.Shutdown)
	mgr.RegisterSupervisorShutdown("supervisor", func(ctx context.Context) error {
		sup.Stop()
		return nil
	})

	if err := mgr.Run(); err != nil {
		log.Warn().Err(err).Msg("Shutdown completed with timeout")
	}

	<-sleepDone
	log.Info().Msg("sqsd stopped")
}
