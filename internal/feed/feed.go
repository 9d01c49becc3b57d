// Package feed broadcasts the latest value of a live collection to any number
// of subscribers without ever blocking the publisher.
//
// Every subscriber channel holds at most one pending value. A publish that
// finds the slot full replaces the stale value, so subscribers always observe
// values in publish order but may skip intermediate ones.
package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next when a subscription ended without an error.
var ErrClosed = errors.New("feed closed")

type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	latest T
	has    bool
	onIdle func()
}

// New returns an empty feed. onIdle, if not nil, runs after the last
// subscriber leaves; it is called without any feed lock held.
func New[T any](onIdle func()) *Feed[T] {
	return &Feed[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		onIdle: onIdle,
	}
}

type Subscription[T any] struct {
	feed *Feed[T]
	ch   chan T
	stop func() bool

	// guarded by feed.mu
	closed bool
	err    error
}

// Subscribe registers a subscriber that lives until ctx ends or Close is
// called. The latest published value, if any, is delivered immediately.
func (f *Feed[T]) Subscribe(ctx context.Context) *Subscription[T] {
	s := &Subscription[T]{
		feed: f,
		ch:   make(chan T, 1),
	}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	if f.has {
		s.ch <- f.latest
	}
	// AfterFunc never runs s.Close synchronously, so holding mu is fine.
	s.stop = context.AfterFunc(ctx, s.Close)
	f.mu.Unlock()

	return s
}

// Publish records v as the latest value and offers it to every subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest, f.has = v, true
	for s := range f.subs {
		s.offer(v)
	}
}

// Latest returns the last published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.has
}

// Reset forgets the latest value so new subscribers wait for a fresh one.
func (f *Feed[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	f.latest, f.has = zero, false
}

// Fail terminates every current subscription with err. The feed stays usable
// for later subscribers.
func (f *Feed[T]) Fail(err error) {
	f.terminate(err)
}

// Close terminates every current subscription without an error.
func (f *Feed[T]) Close() {
	f.terminate(nil)
}

func (f *Feed[T]) terminate(err error) {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*Subscription[T]]struct{})
	var zero T
	f.latest, f.has = zero, false
	for s := range subs {
		s.closeLocked(err)
	}
	f.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

// Len reports the number of live subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// C delivers values until the subscription ends, then is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Err reports why the subscription ended; nil for a normal close.
func (s *Subscription[T]) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	f := s.feed

	f.mu.Lock()
	if s.closed {
		f.mu.Unlock()
		return
	}
	delete(f.subs, s)
	s.closeLocked(nil)
	idle := len(f.subs) == 0
	f.mu.Unlock()

	s.stop()
	if idle && f.onIdle != nil {
		f.onIdle()
	}
}

func (s *Subscription[T]) offer(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}
	// Slot is full: drop the stale value. Only the publisher sends, under
	// feed.mu, so the second send cannot block.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

func (s *Subscription[T]) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Next waits for the next value on sub.
func Next[T any](ctx context.Context, sub *Subscription[T]) (T, error) {
	var zero T
	select {
	case v, ok := <-sub.C():
		if !ok {
			if err := sub.Err(); err != nil {
				return zero, err
			}
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
