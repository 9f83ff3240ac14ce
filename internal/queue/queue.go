// Package queue defines the remote queue collaborator interface and the
// discovery logic that resolves queue name prefixes into concrete queues.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueNotFound indicates a literal queue name that does not exist on the
// remote service. Discovery treats it as non-fatal (warn and omit).
var ErrQueueNotFound = errors.New("queue not found")

// Queue identifies a single remote queue. Immutable once discovered.
type Queue struct {
	Name   string
	URL    string
	Region string
}

// Message is a single received-but-unacknowledged message. The receipt handle
// is required to delete it; until deleted, the message is invisible on the
// remote side for the duration of the visibility timeout.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	Queue         Queue
	ReceivedAt    time.Time
}

// Service is the remote queue collaborator (AWS SQS in production, an
// in-memory implementation in tests).
type Service interface {
	// ListQueues returns all queues whose name starts with prefix.
	ListQueues(ctx context.Context, prefix string) ([]Queue, error)

	// GetQueue resolves a queue by exact name. Returns ErrQueueNotFound if
	// the queue does not exist.
	GetQueue(ctx context.Context, name string) (Queue, error)

	// ReceiveBatch receives up to max messages from q. The call blocks up to
	// the service's long-poll ceiling and may return an empty batch.
	ReceiveBatch(ctx context.Context, q Queue, max int) ([]Message, error)

	// Delete permanently removes a message using its receipt handle.
	Delete(ctx context.Context, q Queue, receiptHandle string) error
}

// PermanentError marks an error as non-retryable (bad credentials, missing
// queue, rejected configuration). Readers terminate on permanent errors and
// are respawned by the supervisor, so a persistent misconfiguration surfaces
// as a visible crash-loop instead of a silent retry loop.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
