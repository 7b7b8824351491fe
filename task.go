// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ctxjs

import (
	"context"
	"sync/atomic"
)

// taskStatus represents the current status of a task.
type taskStatus int32

const (
	taskStatusPending   taskStatus = iota // Task is waiting to be executed
	taskStatusRunning                     // Task is currently being executed
	taskStatusCompleted                   // Task execution has completed
	taskStatusSkipped                     // Caller gave up before the task started
)

// taskFunc is the work a task performs against the thread's engine.
type taskFunc func(ctx context.Context, engine Engine) (any, error)

// taskResult represents the result of task execution.
type taskResult struct {
	value any   // Value returned by the task function
	err   error // Error that occurred during execution (nil if successful)
}

// task represents a unit of work to be executed by a thread.
type task struct {
	ctx        context.Context  // Caller context, checked before the task starts
	fn         taskFunc         // Work to run
	resultChan chan *taskResult // Channel to receive the execution result
	status     atomic.Int32     // Current taskStatus, read by waiting callers
}

// newTask creates a new task instance for fn.
func newTask(ctx context.Context, fn taskFunc) *task {
	return &task{
		ctx:        ctx,
		fn:         fn,
		resultChan: make(chan *taskResult, 1), // Buffered channel to prevent blocking
	}
}

func (t *task) getStatus() taskStatus {
	return taskStatus(t.status.Load())
}

func (t *task) setStatus(s taskStatus) {
	t.status.Store(int32(s))
}
