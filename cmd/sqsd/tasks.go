package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/masayang/sqsd/internal/task"
)

// registerTasks populates the task registry for this binary. Deployments
// embedding the supervisor as a library register their own handlers here or
// construct their own registry.
func registerTasks(registry *task.Registry) {
	// Built-in echo task, useful for smoke-testing a queue end to end:
	// {"task": "sqsd.echo", "args": {...}}
	registry.Register("sqsd.echo", func(ctx context.Context, args json.RawMessage) error {
		log.Info().RawJSON("args", normalizeArgs(args)).Msg("echo task invoked")
		return nil
	})
}

func normalizeArgs(args json.RawMessage) []byte {
	if len(args) == 0 {
		return []byte("null")
	}
	return args
}
