// Package cancellation tracks the cancel scopes of long-running session
// operations so user-issued stop requests reach the right goroutines.
package cancellation

import (
	"context"
	"sync"
)

// Scope names a cancellable operation class within a session.
type Scope string

const (
	ScopeGeneration Scope = "generation"
	ScopeDeepDebug  Scope = "deep_debug"
)

// Controller hands out per-scope contexts and cancels them on demand. One
// active context per scope: beginning a scope that is already active cancels
// the previous context first.
type Controller struct {
	mu     sync.Mutex
	active map[Scope]context.CancelFunc
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{active: make(map[Scope]context.CancelFunc)}
}

// Begin derives a cancellable context for the scope from parent. A previously
// active context for the same scope is cancelled and replaced.
func (c *Controller) Begin(parent context.Context, scope Scope) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	if prev, ok := c.active[scope]; ok {
		prev()
	}
	c.active[scope] = cancel
	c.mu.Unlock()
	return ctx
}

// Cancel cancels the active context for the scope. Cancelling an inactive
// scope is a no-op, and repeated cancels are safe.
func (c *Controller) Cancel(scope Scope) bool {
	c.mu.Lock()
	cancel, ok := c.active[scope]
	if ok {
		delete(c.active, scope)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Finish releases scope bookkeeping once the operation completes on its own.
// The context is cancelled so derived resources are released.
func (c *Controller) Finish(scope Scope) {
	c.Cancel(scope)
}

// Active reports whether the scope currently has a live context.
func (c *Controller) Active(scope Scope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[scope]
	return ok
}

// CancelAll cancels every active scope. Used during session shutdown.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.active))
	for _, cancel := range c.active {
		cancels = append(cancels, cancel)
	}
	c.active = make(map[Scope]context.CancelFunc)
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
