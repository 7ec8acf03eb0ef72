// Package coalesce deduplicates concurrent origin fetches for the same key
// within one process.
//
// A key is either absent or pending. The first caller of TryBecomeLeader for
// an absent key becomes its leader and must eventually call NotifyAndClear;
// everyone else may Wait for the leader's result:
//
//	if c.TryBecomeLeader(key) {
//		defer c.NotifyAndClear(key, result) // nil tells waiters to fetch themselves
//		...
//	} else if v, ok := c.Wait(ctx, key, timeout); ok {
//		...
//	}
package coalesce

import (
	"context"
	"sync"
	"time"
)

// pending is the wait-list of one in-flight key.
type pending[V any] struct {
	waiters []chan *V
}

// Coalescer is a mutex-guarded table of pending keys. The zero value is not
// usable; create one with New.
type Coalescer[V any] struct {
	mu      sync.Mutex
	entries map[string]*pending[V]
}

// New creates an empty coalescer.
func New[V any]() *Coalescer[V] {
	return &Coalescer[V]{
		entries: make(map[string]*pending[V]),
	}
}

// TryBecomeLeader registers key as pending and reports true if it was absent.
// It returns false while another leader owns key.
func (c *Coalescer[V]) TryBecomeLeader(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = &pending[V]{}
	return true
}

// Wait blocks until the leader of key publishes a result, timeout elapses or
// ctx is done. ok is false on timeout, cancellation, a nil result, or when key
// is not pending at all (its leader already finished).
func (c *Coalescer[V]) Wait(ctx context.Context, key string, timeout time.Duration) (value *V, ok bool) {
	ch := make(chan *V, 1)

	c.mu.Lock()
	entry, exists := c.entries[key]
	if !exists {
		c.mu.Unlock()
		return nil, false
	}
	entry.waiters = append(entry.waiters, ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, v != nil
	case <-timer.C:
	case <-ctx.Done():
	}

	c.unregister(key, entry, ch)
	return nil, false
}

// NotifyAndClear hands result to every waiter of key in registration order
// and removes the entry. A nil result tells waiters to fetch on their own.
// Calling it for a key that is not pending is a no-op.
func (c *Coalescer[V]) NotifyAndClear(key string, result *V) {
	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !exists {
		return
	}
	// Channels are buffered and each receives exactly one value.
	for _, ch := range entry.waiters {
		ch <- result
	}
}

// Pending reports whether key currently has a leader.
func (c *Coalescer[V]) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.entries[key]
	return exists
}

// Len returns the number of pending keys.
func (c *Coalescer[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Waiters returns the number of callers currently waiting on key.
func (c *Coalescer[V]) Waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.entries[key]; exists {
		return len(entry.waiters)
	}
	return 0
}

func (c *Coalescer[V]) unregister(key string, entry *pending[V], ch chan *V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The entry may already be gone or replaced by a new leader's entry.
	if current, exists := c.entries[key]; !exists || current != entry {
		return
	}
	for i, w := range entry.waiters {
		if w == ch {
			entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
			return
		}
	}
}
