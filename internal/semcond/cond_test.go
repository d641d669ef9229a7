package semcond

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitUntilParked polls until a goroutine has announced itself in Wait.
func waitUntilParked(t *testing.T, c *Cond) {
	t.Helper()
	require.Eventually(t, c.Waiting, time.Second, time.Millisecond, "waiter never parked")
}

func TestNewNilLocker(t *testing.T) {
	c, err := New(nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrNilLocker)
}

func TestSignalWithoutWaiterIsLost(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	// Must return immediately.
	done := make(chan struct{})
	go func() {
		c.Signal()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked with no waiter")
	}

	woke := make(chan struct{})
	go func() {
		mu.Lock()
		c.Wait()
		mu.Unlock()
		close(woke)
	}()

	waitUntilParked(t, c)
	select {
	case <-woke:
		t.Fatal("earlier signal leaked into a later Wait")
	case <-time.After(50 * time.Millisecond):
	}

	c.Signal()
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by signal")
	}
	assert.NoError(t, c.Err())
}

func TestSignalReturnsAfterWaiterResumes(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	resumed := make(chan struct{})
	go func() {
		mu.Lock()
		c.Wait()
		close(resumed)
		mu.Unlock()
	}()

	waitUntilParked(t, c)

	mu.Lock()
	c.Signal()
	// The waiter consumed the wake event and acknowledged it before Signal
	// returned, but cannot have re-acquired the mutex yet.
	assert.False(t, c.wake.IsSet(), "wake event still pending after Signal returned")
	assert.Equal(t, int64(0), c.received.Count())
	assert.False(t, c.Waiting())
	select {
	case <-resumed:
		t.Fatal("waiter re-acquired the mutex while the signaler held it")
	default:
	}
	mu.Unlock()

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("waiter did not resume")
	}
}

func TestSignalWakesExactlyOneWait(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	var wakes int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2 {
			mu.Lock()
			c.Wait()
			wakes++
			mu.Unlock()
		}
	}()

	waitUntilParked(t, c)
	c.Signal()

	// The second Wait must park again rather than reuse the first wake.
	waitUntilParked(t, c)
	mu.Lock()
	assert.Equal(t, 1, wakes)
	mu.Unlock()

	c.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second wait not released")
	}
	assert.Equal(t, 2, wakes)
}

func TestPingPong(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	const rounds = 10000
	turn := 0
	var wg sync.WaitGroup

	player := func(me int) {
		defer wg.Done()
		for range rounds {
			mu.Lock()
			for turn != me {
				c.Wait()
			}
			turn = 1 - me
			c.Signal()
			mu.Unlock()
		}
	}

	wg.Add(2)
	go player(0)
	go player(1)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("ping-pong deadlocked")
	}
	assert.NoError(t, c.Err())
}

func TestUnlockedSignalersWithOneWaiter(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	const perSignaler = 5000
	pending := 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2 * perSignaler {
			mu.Lock()
			for pending == 0 {
				c.Wait()
			}
			pending--
			mu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSignaler {
				mu.Lock()
				pending++
				mu.Unlock()
				c.Signal()
			}
		}()
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("waiter or signaler hung")
	}
	wg.Wait()
	assert.NoError(t, c.Err())
}

func TestSecondWaiterReleasesLock(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	ready := false
	first := make(chan struct{})
	go func() {
		defer close(first)
		mu.Lock()
		for !ready {
			c.Wait()
		}
		mu.Unlock()
	}()
	waitUntilParked(t, c)

	// A second waiter breaks the single-waiter rule. Its Wait cannot park,
	// but it must still let other goroutines take the lock.
	second := make(chan struct{})
	go func() {
		defer close(second)
		mu.Lock()
		for !ready {
			c.Wait()
		}
		mu.Unlock()
	}()

	require.Eventually(t, func() bool { return c.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrSemaphoreOverflow)

	mu.Lock()
	ready = true
	mu.Unlock()

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("second waiter kept spinning")
	}

	c.Signal()
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first waiter not released")
	}
}

func TestWaitContextCanceled(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	mu.Lock()
	assert.ErrorIs(t, c.WaitContext(ctx), context.DeadlineExceeded)
	// Lock is held again and the waiter announcement was withdrawn.
	assert.False(t, mu.TryLock())
	assert.False(t, c.Waiting())
	mu.Unlock()

	// With no waiter left the signal is simply lost.
	done := make(chan struct{})
	go func() {
		c.Signal()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked on a canceled waiter")
	}
	assert.NoError(t, c.Err())
}

func TestWaitContextSignaled(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		mu.Lock()
		err := c.WaitContext(context.Background())
		mu.Unlock()
		result <- err
	}()

	waitUntilParked(t, c)
	c.Signal()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitContext not released by Signal")
	}
}

func TestClose(t *testing.T) {
	var mu sync.Mutex
	c, err := New(&mu)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	mu.Lock()
	c.Wait()
	mu.Unlock()
	c.Signal()

	assert.ErrorIs(t, c.Err(), ErrClosed)
	mu.Lock()
	assert.ErrorIs(t, c.WaitContext(context.Background()), ErrClosed)
	mu.Unlock()
}
