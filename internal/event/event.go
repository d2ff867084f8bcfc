// Package event is a small typed publish/subscribe hub with one-shot waiters.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is returned by Waiter.Wait when its context ends first.
var ErrCancelled = errors.New("event: wait cancelled")

// Emitter fans events of type T out to subscribers and waiters.
type Emitter[T any] struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]chan T
	waiters     map[uint64]*Waiter[T]
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{
		subscribers: make(map[uint64]chan T),
		waiters:     make(map[uint64]*Waiter[T]),
	}
}

// Subscribe returns a channel of events until ctx is cancelled.
// Slow subscribers miss events rather than block Fire.
func (e *Emitter[T]) Subscribe(ctx context.Context) <-chan T {
	e.mu.Lock()
	ch := make(chan T, 16)
	id := e.nextID
	e.nextID++
	e.subscribers[id] = ch
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.subscribers, id)
		close(ch)
		e.mu.Unlock()
	}()
	return ch
}

// Once registers a waiter resolved by the first event for which match
// returns true. A nil match accepts any event.
// Register before triggering the action that produces the event.
func (e *Emitter[T]) Once(match func(T) bool) *Waiter[T] {
	if match == nil {
		match = func(T) bool { return true }
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &Waiter[T]{
		emitter: e,
		id:      e.nextID,
		match:   match,
		ch:      make(chan T, 1),
	}
	e.nextID++
	e.waiters[w.id] = w
	return w
}

// Fire delivers v to every subscriber and resolves every matching waiter.
func (e *Emitter[T]) Fire(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
	for id, w := range e.waiters {
		if w.match(v) {
			// Removal under the lock is the only way out of the map, so a
			// waiter resolves at most once.
			delete(e.waiters, id)
			w.ch <- v
		}
	}
}

// Pending returns the number of registered waiters.
func (e *Emitter[T]) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, id)
}

// Waiter is a one-shot subscription.
type Waiter[T any] struct {
	emitter *Emitter[T]
	id      uint64
	match   func(T) bool
	ch      chan T
}

// Wait blocks until the waiter resolves or ctx ends. Either way the waiter
// is unsubscribed when Wait returns.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		w.Cancel()
		// The event may have raced the cancellation.
		select {
		case v := <-w.ch:
			return v, nil
		default:
		}
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// Cancel unsubscribes the waiter. It is safe to call more than once.
func (w *Waiter[T]) Cancel() {
	w.emitter.remove(w.id)
}
