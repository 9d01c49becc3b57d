package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesLatestImmediately(t *testing.T) {
	f := New[int](nil)
	f.Publish(1)
	f.Publish(2)

	sub := f.Subscribe(context.Background())
	defer sub.Close()

	v, err := Next(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPublish_ConflatesButKeepsOrder(t *testing.T) {
	f := New[int](nil)
	sub := f.Subscribe(context.Background())
	defer sub.Close()

	for i := 1; i <= 100; i++ {
		f.Publish(i)
	}

	v, err := Next(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 100, v, "a slow subscriber sees only the newest value")

	f.Publish(101)
	v, err = Next(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 101, v)
}

func TestPublish_NeverBlocksWithoutReaders(t *testing.T) {
	f := New[int](nil)
	for i := 0; i < 10; i++ {
		sub := f.Subscribe(context.Background())
		defer sub.Close()
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			f.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on idle subscribers")
	}
}

func TestFail_TerminatesSubscriptionsWithError(t *testing.T) {
	f := New[string](nil)
	sub := f.Subscribe(context.Background())
	boom := errors.New("boom")

	f.Fail(boom)

	_, err := Next(context.Background(), sub)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.Len())

	// The feed stays usable for new subscribers.
	again := f.Subscribe(context.Background())
	defer again.Close()
	f.Publish("fresh")
	v, err := Next(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestClose_EndsWithoutError(t *testing.T) {
	f := New[int](nil)
	sub := f.Subscribe(context.Background())

	f.Close()

	_, err := Next(context.Background(), sub)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, sub.Err())
}

func TestContextCancel_DetachesAndCallsOnIdle(t *testing.T) {
	var idle atomic.Int32
	f := New[int](func() { idle.Add(1) })

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	f.Subscribe(ctx1)
	f.Subscribe(ctx2)

	cancel1()
	assert.Eventually(t, func() bool { return f.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), idle.Load())

	cancel2()
	assert.Eventually(t, func() bool { return idle.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.Len())
}

func TestSubscription_CloseTwice(t *testing.T) {
	var idle atomic.Int32
	f := New[int](func() { idle.Add(1) })
	sub := f.Subscribe(context.Background())

	sub.Close()
	sub.Close()

	assert.Equal(t, int32(1), idle.Load())
}

func TestReset_NewSubscribersWaitForFreshValue(t *testing.T) {
	f := New[int](nil)
	f.Publish(7)
	f.Reset()

	_, ok := f.Latest()
	assert.False(t, ok)

	sub := f.Subscribe(context.Background())
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Next(ctx, sub)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
