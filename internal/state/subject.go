// Package state holds the process-wide reactive snapshots the UI renders from.
//
// Each domain lives in a Subject: a single value with synchronous, ordered
// change notification. Snapshots are shared with every reader, so writers must
// Set a fresh value instead of mutating the one they got from Get.
package state

import (
	"sync"
	"sync/atomic"
)

// Subject is a reactive container for one domain snapshot.
type Subject[T any] struct {
	emitMu sync.Mutex // serializes writes together with their notifications

	mu    sync.RWMutex
	value T

	subsMu sync.RWMutex
	subs   []*subscriber[T]
}

type subscriber[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// NewSubject creates a subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial}
}

// Get returns the latest snapshot. It never waits for a running notification.
func (s *Subject[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the snapshot and notifies every subscriber, in subscription
// order, before returning. Each call produces exactly one emission per subscriber.
func (s *Subject[T]) Set(v T) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.value = v
	s.mu.Unlock()

	s.notify(v)
}

// Update applies fn to the current snapshot and stores the result atomically
// with respect to other writers. fn must not mutate its argument in place.
func (s *Subject[T]) Update(fn func(current T) T) T {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	next := fn(s.Get())

	s.mu.Lock()
	s.value = next
	s.mu.Unlock()

	s.notify(next)
	return next
}

// Subscribe registers fn for future snapshots and returns the current one.
// No write can slip between the returned snapshot and the first notification.
// Subscribe must not be called from inside a notification of the same subject.
func (s *Subject[T]) Subscribe(fn func(T)) (T, func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	sub := &subscriber[T]{fn: fn}
	sub.active.Store(true)

	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	return s.Get(), func() { s.remove(sub) }
}

// SubscriberCount returns the number of live subscribers.
func (s *Subject[T]) SubscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

func (s *Subject[T]) notify(v T) {
	s.subsMu.RLock()
	subs := make([]*subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.subsMu.RUnlock()

	for _, sub := range subs {
		// Skips subscribers removed by an earlier callback in this round.
		if sub.active.Load() {
			sub.fn(v)
		}
	}
}

func (s *Subject[T]) remove(target *subscriber[T]) {
	if !target.active.CompareAndSwap(true, false) {
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub == target {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}
