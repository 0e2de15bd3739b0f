// Package async runs job executions: the pluggable execution capability and
// the worker pool that bounds how many attempts run at once.
package async

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// Executor performs the actual work of a job.
//
// Implementations decode their own payload from job.Payload, return a result
// value on success and an error on failure. They MUST honor ctx cancellation:
// the timeout wrapper relies on it.
type Executor interface {
	Execute(ctx context.Context, job *schedule.Job) (schedule.Value, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, job *schedule.Job) (schedule.Value, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *schedule.Job) (schedule.Value, error) {
	return f(ctx, job)
}

// JobHandler is a named Executor that can be registered
type JobHandler interface {
	Executor
	// Name is matched against the job's "handler" metadata
	Name() string
}

// HandlerRegistry manages job handlers by name.
// Safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// Register adds a handler using its name.
// Returns an error if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler JobHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		return errors.Newf("handler already registered for name: %s", name)
	}
	r.handlers[name] = handler
	return nil
}

// Get retrieves the handler for a name, or nil
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Names returns all registered handler names, sorted
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryExecutor routes a job to the handler named in its metadata,
// falling back to a default executor for jobs that name none.
type RegistryExecutor struct {
	registry *HandlerRegistry
	fallback Executor
}

// NewRegistryExecutor creates an executor backed by a handler registry.
// fallback may be nil.
func NewRegistryExecutor(registry *HandlerRegistry, fallback Executor) *RegistryExecutor {
	return &RegistryExecutor{
		registry: registry,
		fallback: fallback,
	}
}

// Execute implements Executor by dispatching to registered handlers
func (e *RegistryExecutor) Execute(ctx context.Context, job *schedule.Job) (schedule.Value, error) {
	name := job.Metadata[schedule.MetadataHandler]
	if name != "" {
		if handler := e.registry.Get(name); handler != nil {
			return handler.Execute(ctx, job)
		}
		return schedule.Null(), errors.Newf("no handler registered for name: %s", name)
	}

	if e.fallback != nil {
		return e.fallback.Execute(ctx, job)
	}
	return schedule.Null(), errors.Newf("job %s names no handler and no default executor is configured", job.ID)
}
