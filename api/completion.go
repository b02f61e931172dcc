// File: api/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-fire completion handles for connect and write requests.
//
// A Completion resolves exactly once: success, failure, or cancellation.
// Late attempts to resolve it again are no-ops, which is what makes racing
// finishers (a connect timeout timer vs. the finish-connect callback) safe.

package api

import "sync"

type completionState int32

const (
	completionPending completionState = iota
	completionSucceeded
	completionFailed
	completionCancelled
)

// Completion is a single-fire result handle.
type Completion struct {
	mu        sync.Mutex
	state     completionState
	err       error
	done      chan struct{}
	listeners []func(*Completion)
	progress  func(int64)
}

// NewCompletion creates a pending completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// TrySuccess resolves the completion successfully. Returns false if it was
// already resolved.
func (c *Completion) TrySuccess() bool {
	return c.fire(completionSucceeded, nil)
}

// TryFailure resolves the completion with err. Returns false if it was
// already resolved.
func (c *Completion) TryFailure(err error) bool {
	if err == nil {
		err = ErrCompletionFailed
	}
	return c.fire(completionFailed, err)
}

// Cancel resolves the completion as cancelled. Returns false if it was
// already resolved.
func (c *Completion) Cancel() bool {
	return c.fire(completionCancelled, ErrCancelled)
}

func (c *Completion) fire(state completionState, err error) bool {
	c.mu.Lock()
	if c.state != completionPending {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.err = err
	listeners := c.listeners
	c.listeners = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
	return true
}

// Done returns a channel closed when the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while pending or on success, the failure cause on
// failure, and ErrCancelled after cancellation.
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsDone reports whether the completion has resolved.
func (c *Completion) IsDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != completionPending
}

// Cancelled reports whether the completion resolved by cancellation.
func (c *Completion) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == completionCancelled
}

// OnComplete registers fn to run when the completion resolves. If it has
// already resolved, fn runs inline.
func (c *Completion) OnComplete(fn func(*Completion)) {
	c.mu.Lock()
	if c.state != completionPending {
		c.mu.Unlock()
		fn(c)
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetProgress installs a progress callback invoked as the associated
// operation partially completes.
func (c *Completion) SetProgress(fn func(int64)) {
	c.mu.Lock()
	c.progress = fn
	c.mu.Unlock()
}

// ReportProgress notifies the progress callback, if any.
func (c *Completion) ReportProgress(n int64) {
	c.mu.Lock()
	fn := c.progress
	c.mu.Unlock()
	if fn != nil && n > 0 {
		fn(n)
	}
}
