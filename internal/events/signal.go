// Package events provides ordered, typed listener lists. Listeners run
// synchronously in subscription order on the goroutine that emits.
package events

import "sync"

// Signal is a multicast notification carrying a payload of type T.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Subscription detaches a listener from its signal.
type Subscription interface {
	Unsubscribe()
}

type subscription[T any] struct {
	signal *Signal[T]
	id     uint64
	once   sync.Once
}

func (s *subscription[T]) Unsubscribe() {
	if s == nil || s.signal == nil {
		return
	}
	s.once.Do(func() { s.signal.remove(s.id) })
}

// Subscribe appends fn to the listener list.
func (s *Signal[T]) Subscribe(fn func(T)) Subscription {
	if fn == nil {
		return &subscription[T]{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listener[T]{id: s.nextID, fn: fn})
	return &subscription[T]{signal: s, id: s.nextID}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Emit calls every listener registered at the time of the call.
func (s *Signal[T]) Emit(payload T) {
	s.mu.Lock()
	snapshot := make([]func(T), len(s.listeners))
	for i, l := range s.listeners {
		snapshot[i] = l.fn
	}
	s.mu.Unlock()
	for _, fn := range snapshot {
		fn(payload)
	}
}

// Bound reports whether any listener is registered.
func (s *Signal[T]) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0
}

// Group collects subscriptions that share a lifetime.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add tracks sub until Close.
func (g *Group) Add(sub Subscription) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
}

// Close unsubscribes everything in the group.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
