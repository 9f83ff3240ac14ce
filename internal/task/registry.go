// Package task provides the registry mapping task identifiers to handlers.
//
// Message bodies name their task explicitly and are dispatched through a
// registry populated at startup, never resolved via reflection.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes a single task invocation
type Handler func(ctx context.Context, args json.RawMessage) error

// Payload is the wire format of a message body
type Payload struct {
	Task string          `json:"task"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Registry maps task identifiers to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task identifier. Re-registering an identifier
// replaces the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Resolve decodes a message body and returns the bound handler with the
// decoded arguments. A body that does not decode, names no task, or names an
// unregistered task is a malformed message.
func (r *Registry) Resolve(body []byte) (Handler, json.RawMessage, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, fmt.Errorf("malformed message body: %w", err)
	}
	if p.Task == "" {
		return nil, nil, fmt.Errorf("message body names no task")
	}

	r.mu.RLock()
	h, ok := r.handlers[p.Task]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no handler registered for task %q", p.Task)
	}

	return h, p.Args, nil
}

// Names returns the registered task identifiers
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
