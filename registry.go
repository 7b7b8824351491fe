// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Mode selects the shape of a Registry.
type Mode int

const (
	// ModeNamed keeps any number of contexts addressed by name.
	ModeNamed Mode = iota
	// ModeSingle keeps one current context; Create replaces it and Get
	// ignores the name.
	ModeSingle
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case ModeNamed:
		return "named"
	case ModeSingle:
		return "single"
	default:
		return "unknown"
	}
}

// ParseMode parses the string form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "named":
		return ModeNamed, nil
	case "single":
		return ModeSingle, nil
	}
	return ModeNamed, fmt.Errorf("unknown registry mode %q", s)
}

// RegistryOption contains configuration options for a Registry.
type RegistryOption struct {
	mode           Mode          // Registry shape
	queueSize      uint32        // Size of the task queue per context
	enqueueTimeout time.Duration // Timeout for enqueuing tasks
	executeTimeout time.Duration // Default deadline for one operation
	contextTTL     time.Duration // Idle time after which a context is closed; 0 disables
}

// Registry maps names to execution contexts.
type Registry struct {
	options *RegistryOption
	factory EngineFactory
	logger  *slog.Logger

	mu       sync.Mutex
	contexts map[string]*Context // ModeNamed entries
	current  *Context            // ModeSingle entry
	closed   bool

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// ErrRegistryClosed is returned by operations on a stopped Registry.
var ErrRegistryClosed = errors.New("registry is closed")

// NewRegistry creates a registry with the given options. An engine factory
// is required.
func NewRegistry(opts ...func(*Registry)) (*Registry, error) {
	r := &Registry{
		logger: slog.Default(),
		options: &RegistryOption{
			mode:           ModeNamed,
			queueSize:      64,               // Default queue size
			enqueueTimeout: 30 * time.Second, // 30 second enqueue timeout
			executeTimeout: 60 * time.Second, // 60 second execution timeout
		},
		contexts:    make(map[string]*Context),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.factory == nil {
		return nil, errors.New("JavaScript engine factory must be provided")
	}

	if r.options.contextTTL > 0 {
		go r.retireContexts()
	} else {
		close(r.cleanupDone)
	}

	if r.logger != nil {
		r.logger.Debug("Registry created",
			"mode", r.options.mode.String(),
			"queueSize", r.options.queueSize,
			"enqueueTimeout", r.options.enqueueTimeout,
			"executeTimeout", r.options.executeTimeout,
			"contextTTL", r.options.contextTTL,
		)
	}
	return r, nil
}

// WithEngine configures the engine factory used for every context.
func WithEngine(factory EngineFactory) func(*Registry) {
	return func(r *Registry) {
		r.factory = factory
	}
}

// WithLogger configures the logger for the registry and its contexts.
func WithLogger(logger *slog.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMode selects between named contexts and a single current context.
func WithMode(mode Mode) func(*Registry) {
	return func(r *Registry) {
		r.options.mode = mode
	}
}

// WithQueueSize sets how many calls each context queues. Zero keeps the default.
func WithQueueSize(size uint32) func(*Registry) {
	return func(r *Registry) {
		if size > 0 {
			r.options.queueSize = size
		}
	}
}

// WithEnqueueTimeout sets how long a call waits for room in a context's queue.
// Zero waits indefinitely.
func WithEnqueueTimeout(timeout time.Duration) func(*Registry) {
	return func(r *Registry) {
		if timeout >= 0 {
			r.options.enqueueTimeout = timeout
		}
	}
}

// WithExecuteTimeout sets the default deadline applied to every operation.
// Zero disables it; a deadline on the caller's context still applies.
func WithExecuteTimeout(timeout time.Duration) func(*Registry) {
	return func(r *Registry) {
		if timeout >= 0 {
			r.options.executeTimeout = timeout
		}
	}
}

// WithContextTTL closes contexts that have been idle for longer than ttl.
func WithContextTTL(ttl time.Duration) func(*Registry) {
	return func(r *Registry) {
		if ttl > 0 {
			r.options.contextTTL = ttl
		}
	}
}

// Mode returns the registry shape.
func (r *Registry) Mode() Mode {
	return r.options.mode
}

// newContext starts a thread for name and waits for its engine.
func (r *Registry) newContext(name string) (*Context, error) {
	t := newThread(r, name)
	go t.run()
	if err := <-t.initCh; err != nil {
		return nil, NewError(KindRegistry, fmt.Sprintf("failed to create context %s", name), err)
	}
	return &Context{name: name, thread: t}, nil
}

// Create builds a new context under name. An existing context with the same
// name, or the current context in single mode, is replaced and closed.
func (r *Registry) Create(name string) (*Context, error) {
	c, err := r.newContext(name)
	if err != nil {
		return nil, err
	}
	if err := r.publish(c); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateWith builds a new context, runs program on it and registers it only
// if the program succeeds.
func (r *Registry) CreateWith(ctx context.Context, name string, program Program) (*Context, []Value, error) {
	c, err := r.newContext(name)
	if err != nil {
		return nil, nil, err
	}
	results, err := c.Run(ctx, program)
	if err != nil {
		_ = c.thread.stop()
		return nil, results, err
	}
	if err := r.publish(c); err != nil {
		return nil, results, err
	}
	return c, results, nil
}

// publish inserts c, stopping the entry it replaces.
func (r *Registry) publish(c *Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = c.thread.stop()
		return NewError(KindRegistry, "failed to create context "+c.name, ErrRegistryClosed)
	}
	var old *Context
	if r.options.mode == ModeSingle {
		old, r.current = r.current, c
	} else {
		old = r.contexts[c.name]
		r.contexts[c.name] = c
	}
	r.mu.Unlock()

	if old != nil {
		if err := old.thread.stop(); err != nil && r.logger != nil {
			r.logger.Error("Failed to stop replaced context", "context", old.name, "error", err)
		}
	}
	if r.logger != nil {
		r.logger.Debug("Context created", "context", c.name, "replaced", old != nil)
	}
	return nil
}

// Get returns the context registered under name. In single mode it returns
// the current context whatever the name.
func (r *Registry) Get(name string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options.mode == ModeSingle {
		if r.current == nil {
			return nil, Errorf(KindRegistry, "no current context")
		}
		return r.current, nil
	}
	c, ok := r.contexts[name]
	if !ok {
		return nil, Errorf(KindRegistry, "context %s not found", name)
	}
	return c, nil
}

// remove detaches the entry for name, if c is nil any entry.
func (r *Registry) remove(name string, c *Context) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options.mode == ModeSingle {
		if r.current == nil || (c != nil && r.current != c) {
			return nil
		}
		old := r.current
		r.current = nil
		return old
	}
	old, ok := r.contexts[name]
	if !ok || (c != nil && old != c) {
		return nil
	}
	delete(r.contexts, name)
	return old
}

// Close removes the context registered under name and releases its engine
// after queued operations have run.
func (r *Registry) Close(name string) error {
	old := r.remove(name, nil)
	if old == nil {
		if r.options.mode == ModeSingle {
			return Errorf(KindRegistry, "no current context")
		}
		return Errorf(KindRegistry, "context %s not found", name)
	}
	if r.logger != nil {
		r.logger.Debug("Context closed", "context", old.name)
	}
	return old.thread.stop()
}

// Reset replaces the engine of the named context with a fresh one, dropping
// all globals and modules. The name stays registered.
func (r *Registry) Reset(ctx context.Context, name string) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewError(KindTimeout, "operation canceled", err)
	}
	if err := c.thread.reset(); err != nil {
		return NewError(KindRegistry, fmt.Sprintf("failed to reset context %s", c.name), err)
	}
	if r.logger != nil {
		r.logger.Debug("Context reset", "context", c.name)
	}
	return nil
}

// Names returns the registered context names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options.mode == ModeSingle {
		if r.current == nil {
			return []string{}
		}
		return []string{r.current.name}
	}
	names := make([]string, 0, len(r.contexts))
	for name := range r.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop closes every context and rejects further Create calls.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	contexts := make([]*Context, 0, len(r.contexts)+1)
	for _, c := range r.contexts {
		contexts = append(contexts, c)
	}
	if r.current != nil {
		contexts = append(contexts, r.current)
	}
	r.contexts = make(map[string]*Context)
	r.current = nil
	r.mu.Unlock()

	if r.options.contextTTL > 0 {
		close(r.stopCleanup)
	}
	<-r.cleanupDone

	var g errgroup.Group
	for _, c := range contexts {
		g.Go(c.thread.stop)
	}
	err := g.Wait()

	if r.logger != nil {
		r.logger.Debug("Registry stopped", "contexts", len(contexts))
	}
	return err
}

// retireContexts runs the background cleanup of idle contexts.
func (r *Registry) retireContexts() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.options.contextTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.performCleanup(time.Now())
		case <-r.stopCleanup:
			return
		}
	}
}

// performCleanup closes contexts idle for longer than the TTL.
func (r *Registry) performCleanup(now time.Time) {
	var idle []*Context
	r.mu.Lock()
	for _, c := range r.contexts {
		if r.shouldRetire(c, now) {
			idle = append(idle, c)
		}
	}
	if r.current != nil && r.shouldRetire(r.current, now) {
		idle = append(idle, r.current)
	}
	r.mu.Unlock()

	for _, c := range idle {
		if r.remove(c.name, c) == nil {
			continue
		}
		lastUsed := c.thread.getLastUsed()
		if err := c.thread.stop(); err != nil && r.logger != nil {
			r.logger.Error("Failed to stop idle context", "context", c.name, "error", err)
		}
		if r.logger != nil {
			r.logger.Debug("Context removed",
				"context", c.name,
				"reason", "idle timeout",
				"executions", c.thread.getTaskCount(),
				"idleTime", now.Sub(lastUsed))
		}
	}
}

func (r *Registry) shouldRetire(c *Context, now time.Time) bool {
	if len(c.thread.taskQueue) > 0 || c.thread.busy() {
		return false
	}
	return now.Sub(c.thread.getLastUsed()) > r.options.contextTTL
}
