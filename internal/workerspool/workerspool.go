// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs a bounded number of fallible tasks in parallel, and collects the first error.
// It's used to fetch checkpoint shards concurrently.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs tasks in goroutines, with at most maxParallelism running at the same time.
type Pool struct {
	// maxParallelism is the limit of tasks running in parallel. If 0 tasks run inline, if negative it's unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
	firstErr       error
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism returns the limit of tasks running in parallel.
// If 0 parallelism is disabled, and if -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. It should only be changed before any task is started.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	return w.maxParallelism >= 0 && w.numRunning >= w.maxParallelism
}

// Go waits until there is a worker available and runs the task in a goroutine.
// If parallelism is disabled (maxParallelism is 0), it runs the task inline.
//
// Once a task failed, further tasks are skipped.
func (w *Pool) Go(task func() error) {
	if w.maxParallelism == 0 {
		err := w.Err()
		if err == nil {
			err = task()
		}
		w.mu.Lock()
		w.lockedSetErr(err)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	if w.firstErr != nil {
		return
	}
	w.numRunning++
	go func() {
		err := task()
		w.mu.Lock()
		w.lockedSetErr(err)
		w.numRunning--
		w.cond.Broadcast()
		w.mu.Unlock()
	}()
}

func (w *Pool) lockedSetErr(err error) {
	if err != nil && w.firstErr == nil {
		w.firstErr = err
	}
}

// Err returns the first error returned by a task so far.
func (w *Pool) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}

// Wait for all started tasks to finish, and returns the first error returned by a task.
func (w *Pool) Wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning > 0 {
		w.cond.Wait()
	}
	return w.firstErr
}
