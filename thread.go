// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// threadAction represents an action that can be performed on a thread.
type threadAction int

const (
	actionStop  threadAction = iota // Stop the thread
	actionReset                     // Replace the thread's engine with a fresh one
)

// String returns the string representation of a threadAction.
func (a threadAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// threadActionRequest represents a request to perform an action on a thread.
type threadActionRequest struct {
	action threadAction // The action to perform
	done   chan error   // Channel to signal completion and return any error
}

// errThreadStopped is returned for work submitted to or pending on a stopped thread.
var errThreadStopped = errors.New("context is closed")

// thread owns one engine and runs its tasks one at a time on a locked OS thread.
type thread struct {
	registry *Registry // Reference to the parent registry
	name     string    // Context name, for logging

	taskQueue   chan *task                // Channel for receiving tasks to execute
	actionQueue chan *threadActionRequest // Channel for receiving control actions
	initCh      chan error                // Channel to signal initialization completion
	done        chan struct{}             // Closed when the run loop exits

	lastUsedNano int64  // Timestamp of last task execution (atomic, nanoseconds)
	taskCount    uint32 // Number of tasks executed by this thread (atomic)

	mu      sync.Mutex // Guards engine and current for Interrupt
	engine  Engine     // Engine instance, written only by the run loop
	current *task      // Task being executed, nil when idle
}

// newThread creates a new thread instance.
func newThread(registry *Registry, name string) *thread {
	return &thread{
		registry:     registry,
		name:         name,
		taskQueue:    make(chan *task, registry.options.queueSize),
		actionQueue:  make(chan *threadActionRequest, 1),
		initCh:       make(chan error, 1),
		done:         make(chan struct{}),
		lastUsedNano: time.Now().UnixNano(),
	}
}

// getTaskCount returns the number of tasks executed by this thread (thread-safe).
func (t *thread) getTaskCount() uint32 {
	return atomic.LoadUint32(&t.taskCount)
}

// getLastUsed returns the timestamp of the last task execution (thread-safe).
func (t *thread) getLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&t.lastUsedNano))
}

// busy reports whether a task is executing.
func (t *thread) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

func (t *thread) setEngine(e Engine) {
	t.mu.Lock()
	t.engine = e
	t.mu.Unlock()
}

// initEngine creates the engine for this thread.
func (t *thread) initEngine() error {
	engine, err := t.registry.factory()
	if err != nil {
		return fmt.Errorf("failed to create JS engine: %w", err)
	}
	if engine == nil {
		return errors.New("failed to create JS engine: factory returned nil")
	}
	t.setEngine(engine)
	return nil
}

// closeEngine closes and clears the engine.
func (t *thread) closeEngine() error {
	if t.engine == nil {
		return nil
	}
	err := t.engine.Close()
	t.setEngine(nil)
	if err != nil && t.registry.logger != nil {
		t.registry.logger.Error("Failed to close JS engine",
			"context", t.name,
			"error", err)
	}
	return err
}

// run is the main thread loop that processes tasks and actions.
func (t *thread) run() {
	// Engines keep thread-local state
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer close(t.done)
	defer func() {
		_ = t.closeEngine()
	}()

	if err := t.initEngine(); err != nil {
		t.initCh <- err
		close(t.initCh)
		if t.registry.logger != nil {
			t.registry.logger.Error("Failed to initialize JS engine",
				"context", t.name,
				"error", err,
			)
		}
		return
	}
	t.initCh <- nil
	close(t.initCh)

	var pendingActions []*threadActionRequest

	for {
		// Actions run once the task queue has drained
		for len(pendingActions) > 0 && len(t.taskQueue) == 0 {
			action := pendingActions[0]
			pendingActions = pendingActions[1:]
			if t.executeAction(action) {
				t.failPending(pendingActions)
				return
			}
		}

		select {
		case task := <-t.taskQueue:
			t.executeTask(task)
		case actionReq := <-t.actionQueue:
			pendingActions = append(pendingActions, actionReq)
		}
	}
}

// failPending answers actions queued behind a stop.
func (t *thread) failPending(actions []*threadActionRequest) {
	for _, req := range actions {
		if req.action == actionStop {
			req.done <- nil
		} else {
			req.done <- errThreadStopped
		}
	}
}

// executeAction executes a thread action and reports whether the loop must exit.
func (t *thread) executeAction(req *threadActionRequest) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			if t.registry.logger != nil {
				t.registry.logger.Error("Panic recovered in executeAction",
					"context", t.name,
					"action", req.action.String(),
					"error", r)
			}
			req.done <- fmt.Errorf("panic in executeAction: %v", r)
		}
	}()

	switch req.action {
	case actionStop:
		req.done <- t.closeEngine()
		return true

	case actionReset:
		_ = t.closeEngine()
		err := t.initEngine()
		if err != nil && t.registry.logger != nil {
			t.registry.logger.Error("Context reset failed",
				"context", t.name,
				"error", err)
		}
		req.done <- err

	default:
		req.done <- nil
	}
	return false
}

// executeTask executes a single task against the engine.
func (t *thread) executeTask(task *task) {
	defer func() {
		if r := recover(); r != nil {
			task.resultChan <- &taskResult{
				err: NewError(KindEngine, fmt.Sprintf("panic in context %s", t.name), fmt.Errorf("%v", r)),
			}
			if t.registry.logger != nil {
				t.registry.logger.Error("Task execution panic",
					"context", t.name,
					"taskCount", t.getTaskCount(),
					"error", r)
			}
		}
		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()
		task.setStatus(taskStatusCompleted)
		atomic.StoreInt64(&t.lastUsedNano, time.Now().UnixNano())
		atomic.AddUint32(&t.taskCount, 1)
	}()

	if err := task.ctx.Err(); err != nil {
		task.setStatus(taskStatusSkipped)
		task.resultChan <- &taskResult{err: NewError(KindTimeout, "operation expired before it started", err)}
		return
	}
	if t.engine == nil {
		task.resultChan <- &taskResult{err: Errorf(KindRegistry, "context %s has no engine", t.name)}
		return
	}

	t.mu.Lock()
	t.current = task
	t.mu.Unlock()
	task.setStatus(taskStatusRunning)

	value, err := task.fn(task.ctx, t.engine)
	task.resultChan <- &taskResult{
		value: value,
		err:   err,
	}
}

// interrupt aborts task if it is still running on an engine that supports it.
func (t *thread) interrupt(task *task, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != task || t.engine == nil {
		return
	}
	if in, ok := t.engine.(Interrupter); ok {
		in.Interrupt(reason)
	}
}

// execute runs fn on the thread and waits for its result. The wait ends
// early when ctx is done, the execute timeout elapses or the thread stops.
func (t *thread) execute(ctx context.Context, fn taskFunc) (any, error) {
	opts := t.registry.options
	if opts.executeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.executeTimeout)
		defer cancel()
	}

	task := newTask(ctx, fn)
	if err := t.enqueue(ctx, task); err != nil {
		return nil, err
	}

	select {
	case result := <-task.resultChan:
		return result.value, result.err
	case <-ctx.Done():
		err := ctx.Err()
		t.interrupt(task, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(KindTimeout, "timeout waiting for result", err)
		}
		return nil, NewError(KindTimeout, "operation canceled", err)
	case <-t.done:
		// the result may have raced with shutdown
		select {
		case result := <-task.resultChan:
			return result.value, result.err
		default:
			return nil, NewError(KindRegistry, t.name, errThreadStopped)
		}
	}
}

// enqueue submits task to the queue, giving up after the enqueue timeout.
func (t *thread) enqueue(ctx context.Context, task *task) error {
	var timeout <-chan time.Time
	if d := t.registry.options.enqueueTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case t.taskQueue <- task:
		return nil
	case <-t.done:
		return NewError(KindRegistry, t.name, errThreadStopped)
	case <-ctx.Done():
		return NewError(KindTimeout, "operation canceled before it was queued", ctx.Err())
	case <-timeout:
		return Errorf(KindTimeout, "timeout enqueuing task for context %s", t.name)
	}
}

// sendAction queues a control action and waits for it to complete.
func (t *thread) sendAction(action threadAction) error {
	req := &threadActionRequest{
		action: action,
		done:   make(chan error, 1),
	}
	select {
	case t.actionQueue <- req:
	case <-t.done:
		if action == actionStop {
			return nil
		}
		return NewError(KindRegistry, t.name, errThreadStopped)
	}
	select {
	case err := <-req.done:
		return err
	case <-t.done:
		select {
		case err := <-req.done:
			return err
		default:
		}
		if action == actionStop {
			return nil
		}
		return NewError(KindRegistry, t.name, errThreadStopped)
	}
}

// reset replaces the engine with a fresh one once queued tasks have run.
func (t *thread) reset() error {
	return t.sendAction(actionReset)
}

// stop closes the engine once queued tasks have run and ends the run loop.
func (t *thread) stop() error {
	return t.sendAction(actionStop)
}
