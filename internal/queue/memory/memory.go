// Package memory provides an in-memory queue.Service for tests.
//
// It models the at-least-once contract of the remote service: a received
// message becomes invisible for the visibility timeout and reappears unless
// deleted with its receipt handle.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masayang/sqsd/internal/queue"
)

type storedMessage struct {
	id             string
	body           []byte
	receiptHandle  string
	invisibleUntil time.Time
}

type memQueue struct {
	name     string
	messages []*storedMessage
}

// Service is an in-memory implementation of queue.Service
type Service struct {
	mu                sync.Mutex
	queues            map[string]*memQueue
	visibilityTimeout time.Duration

	receiveErr error
	deleteErr  error
	listErr    error
}

// NewService creates an empty in-memory queue service
func NewService(visibilityTimeout time.Duration) *Service {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &Service{
		queues:            make(map[string]*memQueue),
		visibilityTimeout: visibilityTimeout,
	}
}

// CreateQueue creates a queue with the given name
func (s *Service) CreateQueue(name string) queue.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queues[name]; !exists {
		s.queues[name] = &memQueue{name: name}
	}
	return s.handle(name)
}

// Send appends a message body to the named queue
func (s *Service) Send(name string, body []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[name]
	if !exists {
		q = &memQueue{name: name}
		s.queues[name] = q
	}

	msg := &storedMessage{id: uuid.NewString(), body: body}
	q.messages = append(q.messages, msg)
	return msg.id
}

// MessageCount returns how many messages remain in the queue, visible or not
func (s *Service) MessageCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, exists := s.queues[name]; exists {
		return len(q.messages)
	}
	return 0
}

// MakeAllVisible expires every in-flight visibility timeout immediately
func (s *Service) MakeAllVisible(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, exists := s.queues[name]; exists {
		for _, m := range q.messages {
			m.invisibleUntil = time.Time{}
		}
	}
}

// FailReceives makes subsequent ReceiveBatch calls return err (nil to clear)
func (s *Service) FailReceives(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveErr = err
}

// FailDeletes makes subsequent Delete calls return err (nil to clear)
func (s *Service) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

// FailListings makes discovery calls return err (nil to clear)
func (s *Service) FailListings(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// ListQueues returns all queues whose name starts with prefix
func (s *Service) ListQueues(ctx context.Context, prefix string) ([]queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}

	var queues []queue.Queue
	for name := range s.queues {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			queues = append(queues, s.handle(name))
		}
	}
	return queues, nil
}

// GetQueue resolves a queue by exact name
func (s *Service) GetQueue(ctx context.Context, name string) (queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return queue.Queue{}, s.listErr
	}
	if _, exists := s.queues[name]; !exists {
		return queue.Queue{}, fmt.Errorf("%q: %w", name, queue.ErrQueueNotFound)
	}
	return s.handle(name), nil
}

// ReceiveBatch returns up to max visible messages, hiding each for the
// visibility timeout and issuing a fresh receipt handle
func (s *Service) ReceiveBatch(ctx context.Context, q queue.Queue, max int) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receiveErr != nil {
		return nil, s.receiveErr
	}

	mq, exists := s.queues[q.Name]
	if !exists {
		return nil, &queue.PermanentError{Err: fmt.Errorf("%q: %w", q.Name, queue.ErrQueueNotFound)}
	}

	now := time.Now()
	var received []queue.Message
	for _, m := range mq.messages {
		if len(received) >= max {
			break
		}
		if m.invisibleUntil.After(now) {
			continue
		}
		m.invisibleUntil = now.Add(s.visibilityTimeout)
		m.receiptHandle = uuid.NewString()
		received = append(received, queue.Message{
			ID:            m.id,
			ReceiptHandle: m.receiptHandle,
			Body:          m.body,
			Queue:         q,
			ReceivedAt:    now,
		})
	}

	return received, nil
}

// Delete removes the message matching the receipt handle
func (s *Service) Delete(ctx context.Context, q queue.Queue, receiptHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}

	mq, exists := s.queues[q.Name]
	if !exists {
		return fmt.Errorf("%q: %w", q.Name, queue.ErrQueueNotFound)
	}

	for i, m := range mq.messages {
		if m.receiptHandle == receiptHandle && receiptHandle != "" {
			mq.messages = append(mq.messages[:i], mq.messages[i+1:]...)
			return nil
		}
	}

	// Matches the remote service: deleting with a stale handle is not an error
	return nil
}

func (s *Service) handle(name string) queue.Queue {
	return queue.Queue{
		Name:   name,
		URL:    "memory://" + name,
		Region: "local",
	}
}
