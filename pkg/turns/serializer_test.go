package turns

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsImmediatelyWhenIdle(t *testing.T) {
	s := NewSerializer()
	ran := false

	err := s.Do(context.Background(), "call-1", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, s.Pending("call-1"))
}

func TestDoPreservesFIFOOrder(t *testing.T) {
	s := NewSerializer()

	const n = 20
	var mu sync.Mutex
	var order []int

	release := make(chan struct{})
	var wg sync.WaitGroup

	// First task blocks until released so the rest queue up behind it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()

	// Wait until the first task is in flight.
	require.Eventually(t, func() bool { return s.Pending("call-1") == 1 }, time.Second, time.Millisecond)

	for i := 1; i <= n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Each submission must be enqueued before the next to pin FIFO order.
		require.Eventually(t, func() bool { return s.Pending("call-1") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	require.Len(t, order, n+1)
	for i, got := range order {
		assert.Equal(t, i, got, "task %d ran out of order", i)
	}
}

func TestDoSerializesExactlyOneTaskPerCall(t *testing.T) {
	s := NewSerializer()

	var running, maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
				cur := atomic.AddInt32(&running, 1)
				for {
					prev := atomic.LoadInt32(&maxRunning)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning), "two tasks overlapped on one call")
}

func TestDifferentCallsRunConcurrently(t *testing.T) {
	s := NewSerializer()

	aStarted := make(chan struct{})
	aRelease := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "call-a", func(ctx context.Context) error {
			close(aStarted)
			<-aRelease
			return nil
		})
	}()

	<-aStarted

	// A task on another call must not wait for call-a.
	done := make(chan error, 1)
	go func() {
		done <- s.Do(context.Background(), "call-b", func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task on call-b blocked behind call-a")
	}
	close(aRelease)
}

func TestTaskFailureDoesNotStallQueue(t *testing.T) {
	s := NewSerializer()
	boom := errors.New("boom")

	err := s.Do(context.Background(), "call-1", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// The queue keeps going after a failure.
	err = s.Do(context.Background(), "call-1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCloseDropsQueuedTasks(t *testing.T) {
	s := NewSerializer()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		queued <- s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			t.Error("dropped task must not run")
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Pending("call-1") == 2 }, time.Second, time.Millisecond)

	s.Close("call-1")

	select {
	case err := <-queued:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("queued task did not settle after Close")
	}
	close(release)
}

func TestCloseCancelsInFlightTaskContext(t *testing.T) {
	s := NewSerializer()

	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		result <- s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	s.Close("call-1")

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("in-flight task context was not canceled")
	}
}

func TestCallerCancellationSkipsQueuedTask(t *testing.T) {
	s := NewSerializer()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		queued <- s.Do(ctx, "call-1", func(ctx context.Context) error {
			t.Error("canceled task must not run")
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Pending("call-1") == 2 }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-queued:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queued task did not observe caller cancellation")
	}

	close(release)

	// The failure of one waiter must not wedge the chain.
	err := s.Do(context.Background(), "call-1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCancelledWaiterDoesNotReleaseSuccessorEarly(t *testing.T) {
	s := NewSerializer()

	var firstRunning atomic.Bool
	firstStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			firstRunning.Store(true)
			close(firstStarted)
			<-release
			firstRunning.Store(false)
			return nil
		})
	}()
	<-firstStarted

	// Second task queues behind the first, then its caller gives up.
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		abandoned <- s.Do(ctx, "call-1", func(ctx context.Context) error {
			t.Error("canceled task must not run")
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Pending("call-1") == 2 }, time.Second, time.Millisecond)

	// Third task queues behind the abandoned slot.
	third := make(chan error, 1)
	go func() {
		third <- s.Do(context.Background(), "call-1", func(ctx context.Context) error {
			if firstRunning.Load() {
				t.Error("third task overlapped the still-running first task")
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Pending("call-1") == 3 }, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-abandoned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("abandoned task did not observe caller cancellation")
	}

	// The third task must still be held behind the first.
	select {
	case err := <-third:
		t.Fatalf("third task settled before the first task finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-third:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third task did not run after the first finished")
	}
}

func TestQueueEntryRemovedWhenDrained(t *testing.T) {
	s := NewSerializer()
	_ = s.Do(context.Background(), "call-1", func(ctx context.Context) error { return nil })

	s.mu.Lock()
	_, exists := s.queues["call-1"]
	s.mu.Unlock()
	assert.False(t, exists, "drained queue should be removed")
}
