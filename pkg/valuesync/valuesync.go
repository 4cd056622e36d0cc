// Package valuesync shares a single value between one writer-side API and a
// fixed number of watchers. Every watcher observes each change at most once:
// updates made while a watcher is busy are coalesced into the latest value,
// and a single update wakes every waiting watcher.
package valuesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrTooManyWatchers is returned by Watch when all watcher slots are taken.
	ErrTooManyWatchers = errors.New("valuesync: too many watchers")

	// ErrWatcherClosed is returned by operations on a closed watcher.
	ErrWatcherClosed = errors.New("valuesync: watcher closed")
)

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Option configures a Synchronizer.
type Option[T any] func(*Synchronizer[T])

// WithClone sets the function used to copy the value out of the lock. The
// default is a plain assignment, which is enough for value types.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(s *Synchronizer[T]) { s.clone = clone }
}

// Synchronizer holds a value of type T and a version counter that increases
// with every change.
type Synchronizer[T any] struct {
	mu       sync.Mutex
	value    T
	version  uint64
	changed  chan struct{}
	capacity int
	watchers int
	clone    func(T) T
}

// New returns a synchronizer holding value that accepts up to capacity
// watchers at a time.
func New[T any](value T, capacity int, opts ...Option[T]) *Synchronizer[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("valuesync: capacity must be at least 1, got %d", capacity))
	}
	s := &Synchronizer[T]{
		value:    value,
		changed:  make(chan struct{}),
		capacity: capacity,
		clone:    func(v T) T { return v },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read calls fn with the current value under the lock. fn must not block or
// call back into the synchronizer.
func (s *Synchronizer[T]) Read(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.value)
}

// Project returns fn applied to the current value.
func Project[T, R any](s *Synchronizer[T], fn func(T) R) R {
	var r R
	s.Read(func(v T) { r = fn(v) })
	return r
}

// Snapshot returns a copy of the current value.
func (s *Synchronizer[T]) Snapshot() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.value)
}

// Version returns the number of changes made so far.
func (s *Synchronizer[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Update mutates the value in place and wakes every watcher.
func (s *Synchronizer[T]) Update(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(fn)
}

// Write replaces the value and wakes every watcher.
func (s *Synchronizer[T]) Write(v T) {
	s.Update(func(cur *T) { *cur = v })
}

func (s *Synchronizer[T]) updateLocked(fn func(*T)) uint64 {
	fn(&s.value)
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.version
}

// Watch registers a watcher whose cursor starts at the current version, so
// its first Read waits for the next change.
func (s *Synchronizer[T]) Watch() (*Watcher[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers >= s.capacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrTooManyWatchers, s.capacity)
	}
	s.watchers++
	return &Watcher[T]{s: s, seen: s.version}, nil
}

// MustWatch is like Watch but panics when no slot is free. Use it while
// wiring components at startup, where running out of slots is a bug.
func (s *Synchronizer[T]) MustWatch() *Watcher[T] {
	w, err := s.Watch()
	if err != nil {
		panic(err)
	}
	return w
}

// Watcher is one consumer's cursor into a Synchronizer. Its methods
// serialise on the synchronizer's lock, so a reader goroutine may Publish
// while a writer goroutine Reads.
type Watcher[T any] struct {
	s      *Synchronizer[T]
	seen   uint64
	closed bool
}

// Read blocks until the value changed since the last Read, Skip or Publish,
// then returns the latest value and advances the cursor past it.
func (w *Watcher[T]) Read(ctx context.Context) (T, error) {
	var zero T
	for {
		w.s.mu.Lock()
		if w.closed {
			w.s.mu.Unlock()
			return zero, ErrWatcherClosed
		}
		if w.s.version != w.seen {
			w.seen = w.s.version
			v := w.s.clone(w.s.value)
			w.s.mu.Unlock()
			return v, nil
		}
		ch := w.s.changed
		w.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ch:
		}
	}
}

// TryRead is the non-blocking form of Read. It reports false when nothing
// changed since the cursor.
func (w *Watcher[T]) TryRead() (T, bool) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.closed || w.s.version == w.seen {
		var zero T
		return zero, false
	}
	w.seen = w.s.version
	return w.s.clone(w.s.value), true
}

// Changed returns a channel that is ready once a change is pending. The
// channel must be fetched again after every Read.
func (w *Watcher[T]) Changed() <-chan struct{} {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.closed || w.s.version != w.seen {
		return closedChan
	}
	return w.s.changed
}

// Skip marks every change made so far as seen.
func (w *Watcher[T]) Skip() {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.seen = w.s.version
}

// Publish writes v and advances the cursor past that write in one step, so
// the watcher does not read back its own write. Changes from others that
// were still pending are dropped along with it.
func (w *Watcher[T]) Publish(v T) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.seen = w.s.updateLocked(func(cur *T) { *cur = v })
}

// Close frees the watcher's slot. Closing twice is a no-op.
func (w *Watcher[T]) Close() {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.s.watchers--
}
