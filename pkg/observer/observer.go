// Package observer provides a small synchronous subscription primitive.
//
// Controllers publish a snapshot of their state after every mutation;
// subscribers re-derive whatever they need from it. Publication happens
// synchronously inside the mutating call, so a subscriber always observes
// a settled value and never a half-applied change.
package observer

import (
	"sort"
	"sync"
)

// Hub fans a published value out to all current subscribers. The zero
// value is ready to use. Hub is safe for concurrent use; subscribers are
// invoked without the Hub's lock held, so a subscriber may subscribe or
// cancel from within its own callback.
type Hub[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn to be called on every subsequent Publish. The
// returned cancel function removes the subscription; calling it more than
// once is harmless.
func (h *Hub[T]) Subscribe(fn func(T)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers v to every subscriber, in subscription order, before
// returning.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	// Deliver in subscription order so downstream derivations settle
	// deterministically.
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of active subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
