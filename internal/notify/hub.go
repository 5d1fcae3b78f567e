// Package notify implements the long-poll change notification hub behind
// /onchange.
package notify

import (
	"context"
	"sync"
)

// Waiter is one long-poll client waiting for the next change.
type Waiter struct {
	hub  *Hub
	done chan struct{}
}

// Done is closed when a change is delivered to the waiter.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Cancel deregisters the waiter; it will never be resolved afterwards.
func (w *Waiter) Cancel() {
	w.hub.remove(w)
}

// Hub tracks waiting clients and wakes them on change.
type Hub struct {
	mutex   sync.Mutex
	waiters map[*Waiter]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[*Waiter]struct{})}
}

// Register adds a waiter for the next change.
func (h *Hub) Register() *Waiter {
	w := &Waiter{hub: h, done: make(chan struct{})}

	h.mutex.Lock()
	h.waiters[w] = struct{}{}
	h.mutex.Unlock()

	return w
}

// Wait blocks until the next change or until ctx is done, in which case the
// waiter is removed and ctx's error returned.
func (h *Hub) Wait(ctx context.Context) error {
	w := h.Register()
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		w.Cancel()
		// A change may have raced the cancellation.
		select {
		case <-w.Done():
			return nil
		default:
			return ctx.Err()
		}
	}
}

// NotifyAll resolves every registered waiter and returns how many were woken.
func (h *Hub) NotifyAll() int {
	h.mutex.Lock()
	waiters := h.waiters
	h.waiters = make(map[*Waiter]struct{})
	h.mutex.Unlock()

	for w := range waiters {
		close(w.done)
	}
	return len(waiters)
}

// Waiting returns the number of registered waiters.
func (h *Hub) Waiting() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.waiters)
}

func (h *Hub) remove(w *Waiter) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.waiters, w)
}
