// Package emitter is a synchronous in-process publish/subscribe primitive
// keyed by event name.
package emitter

import (
	"errors"
	"sync"
)

// Listener receives payloads for the events it is registered on.
// Registrations are matched by the listener's identity, so the same
// *Listener can be registered (and removed) more than once.
type Listener[T any] struct {
	fn func(payload T) error
}

// NewListener adapts a function to a Listener.
func NewListener[T any](fn func(payload T) error) *Listener[T] {
	return &Listener[T]{fn: fn}
}

// Emitter fans a payload out to the listeners of one event name, in
// registration order, on the caller's goroutine.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners map[string][]*Listener[T]
}

// New creates an empty emitter.
func New[T any]() *Emitter[T] {
	return &Emitter[T]{
		listeners: make(map[string][]*Listener[T]),
	}
}

// On registers l for event.
func (e *Emitter[T]) On(event string, l *Listener[T]) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], l)
}

// Off removes one registration of l for event. Removing a listener that is
// not registered is a no-op.
func (e *Emitter[T]) Off(event string, l *Listener[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[event]
	for i, cur := range list {
		if cur != l {
			continue
		}
		// Copy so an Emit iterating the old slice is unaffected.
		next := make([]*Listener[T], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = next
		}
		return
	}
}

// Emit calls every listener registered for event when Emit starts, passing
// the same payload to each. Listeners added during emission are not called.
// All listeners run even if some fail; their errors are joined.
func (e *Emitter[T]) Emit(event string, payload T) error {
	e.mu.RLock()
	list := e.listeners[event]
	e.mu.RUnlock()

	var errs []error
	for _, l := range list {
		if err := l.fn(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListenerCount returns the number of registrations for event.
func (e *Emitter[T]) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Clear removes every registration.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]*Listener[T])
}
