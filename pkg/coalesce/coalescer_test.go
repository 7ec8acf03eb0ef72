package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	data string
}

// waitForWaiters polls until n callers are registered on key.
func waitForWaiters(t *testing.T, c *Coalescer[body], key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Waiters(key) == n
	}, time.Second, time.Millisecond)
}

func TestCoalescer_SingleLeader(t *testing.T) {
	c := New[body]()

	assert.True(t, c.TryBecomeLeader("v1:GET:/items"))
	assert.False(t, c.TryBecomeLeader("v1:GET:/items"), "second leader must fail closed")
	assert.True(t, c.TryBecomeLeader("v1:GET:/orders"), "keys are independent")
	assert.Equal(t, 2, c.Len())

	c.NotifyAndClear("v1:GET:/items", nil)
	assert.False(t, c.Pending("v1:GET:/items"))
	assert.True(t, c.TryBecomeLeader("v1:GET:/items"), "absent again after notify")
}

func TestCoalescer_ConcurrentLeaderElection(t *testing.T) {
	c := New[body]()

	const n = 64
	var leaders atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.TryBecomeLeader("hot") {
				leaders.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), leaders.Load())
}

func TestCoalescer_WaitReceivesResult(t *testing.T) {
	c := New[body]()
	require.True(t, c.TryBecomeLeader("k"))

	const n = 5
	results := make(chan *body, n)
	for i := 0; i < n; i++ {
		go func() {
			v, ok := c.Wait(context.Background(), "k", time.Second)
			if !ok {
				results <- nil
				return
			}
			results <- v
		}()
	}
	waitForWaiters(t, c, "k", n)

	want := &body{data: `{"items":[]}`}
	c.NotifyAndClear("k", want)

	for i := 0; i < n; i++ {
		got := <-results
		require.NotNil(t, got)
		assert.Same(t, want, got, "every waiter gets the identical result")
	}
	assert.Equal(t, 0, c.Len())
}

func TestCoalescer_WaitNoneResult(t *testing.T) {
	c := New[body]()
	require.True(t, c.TryBecomeLeader("k"))

	done := make(chan bool, 1)
	go func() {
		_, ok := c.Wait(context.Background(), "k", time.Second)
		done <- ok
	}()
	waitForWaiters(t, c, "k", 1)

	c.NotifyAndClear("k", nil)
	assert.False(t, <-done)
}

func TestCoalescer_WaitTimeout(t *testing.T) {
	c := New[body]()
	require.True(t, c.TryBecomeLeader("k"))

	start := time.Now()
	v, ok := c.Wait(context.Background(), "k", 50*time.Millisecond)

	assert.False(t, ok)
	assert.Nil(t, v)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, c.Waiters("k"), "timed out waiter unregisters")
	assert.True(t, c.Pending("k"), "timeout does not clear the leader's entry")

	// Late notify must not block on the abandoned waiter.
	c.NotifyAndClear("k", &body{data: "late"})
	assert.False(t, c.Pending("k"))
}

func TestCoalescer_WaitContextCancelled(t *testing.T) {
	c := New[body]()
	require.True(t, c.TryBecomeLeader("k"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := c.Wait(ctx, "k", time.Minute)
		done <- ok
	}()
	waitForWaiters(t, c, "k", 1)

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestCoalescer_WaitWithoutLeader(t *testing.T) {
	c := New[body]()

	start := time.Now()
	_, ok := c.Wait(context.Background(), "absent", time.Minute)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "must not wait for a leader that does not exist")
}

func TestCoalescer_LateWaiterAfterNotify(t *testing.T) {
	c := New[body]()
	require.True(t, c.TryBecomeLeader("k"))
	c.NotifyAndClear("k", &body{data: "x"})

	// A waiter arriving after the leader finished must re-check the store
	// itself instead of waiting out its timeout.
	_, ok := c.Wait(context.Background(), "k", time.Minute)
	assert.False(t, ok)

	assert.True(t, c.TryBecomeLeader("k"))
}

func TestCoalescer_NotifyUnknownKey(t *testing.T) {
	c := New[body]()
	assert.NotPanics(t, func() { c.NotifyAndClear("missing", nil) })
}
