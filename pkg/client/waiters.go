package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrWaitTimeout = errors.New("timed out waiting for reply")

// waiter is a single-resolution reply slot. The first resolve wins, later
// ones are ignored.
type waiter[T any] struct {
	resolved atomic.Bool
	ch       chan T
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{ch: make(chan T, 1)}
}

// resolve delivers v. It reports false if the waiter was already resolved.
func (w *waiter[T]) resolve(v T) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}
	w.ch <- v
	return true
}

// wait blocks until resolution, ctx cancellation or timeout. A timeout of
// zero or less waits without limit.
func (w *waiter[T]) wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case v := <-w.ch:
		return v, nil
	case <-expired:
		return zero, ErrWaitTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// waiterSet pairs waiters with request keys. Entries leave the set when
// resolved or when their owner removes them after a timeout.
type waiterSet[K comparable, T any] struct {
	m sync.Map // K -> *waiter[T]
}

// add registers a fresh waiter for k, replacing any previous one
func (s *waiterSet[K, T]) add(k K) *waiter[T] {
	w := newWaiter[T]()
	s.m.Store(k, w)
	return w
}

// resolve completes and removes the waiter for k, if any
func (s *waiterSet[K, T]) resolve(k K, v T) bool {
	val, ok := s.m.LoadAndDelete(k)
	if !ok {
		return false
	}
	return val.(*waiter[T]).resolve(v)
}

// remove drops w if it is still the registered waiter for k
func (s *waiterSet[K, T]) remove(k K, w *waiter[T]) {
	s.m.CompareAndDelete(k, w)
}

func (s *waiterSet[K, T]) has(k K) bool {
	_, ok := s.m.Load(k)
	return ok
}

func (s *waiterSet[K, T]) len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
