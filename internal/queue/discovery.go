package queue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Discover resolves queue name prefixes into a stable, deduplicated list of
// queues, sorted by name.
//
// A prefix containing a glob metacharacter is matched against all remote
// queue names (the portion before the first wildcard narrows the remote
// listing). A literal prefix resolves that exact queue; a missing literal
// queue is logged and omitted. Any remote service failure is returned to the
// caller and aborts supervisor construction.
func Discover(ctx context.Context, svc Service, prefixes []string, logger zerolog.Logger) ([]Queue, error) {
	seen := make(map[string]Queue)

	for _, prefix := range prefixes {
		if isPattern(prefix) {
			listed, err := svc.ListQueues(ctx, literalPrefix(prefix))
			if err != nil {
				return nil, fmt.Errorf("listing queues for %q: %w", prefix, err)
			}
			for _, q := range listed {
				ok, err := path.Match(prefix, q.Name)
				if err != nil {
					return nil, fmt.Errorf("invalid queue pattern %q: %w", prefix, err)
				}
				if ok {
					seen[q.Name] = q
				}
			}
			continue
		}

		q, err := svc.GetQueue(ctx, prefix)
		if err != nil {
			if IsNotFound(err) {
				logger.Warn().Str("queue", prefix).Msg("Queue does not exist, skipping")
				continue
			}
			return nil, fmt.Errorf("resolving queue %q: %w", prefix, err)
		}
		seen[q.Name] = q
	}

	queues := make([]Queue, 0, len(seen))
	for _, q := range seen {
		queues = append(queues, q)
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })

	return queues, nil
}

// IsNotFound reports whether err wraps ErrQueueNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQueueNotFound)
}

func isPattern(prefix string) bool {
	return strings.ContainsAny(prefix, "*?[")
}

// literalPrefix returns the fixed leading portion of a pattern, used to
// narrow the remote listing before glob matching.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
