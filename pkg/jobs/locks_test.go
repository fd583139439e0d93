package jobs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeyIsPerPair(t *testing.T) {
	assert.Equal(t, "panel-a/shop", LockKey("panel-a", "shop"))
	assert.NotEqual(t, LockKey("panel-a", "shop"), LockKey("panel-a", "blog"))
	assert.NotEqual(t, LockKey("panel-a", "shop"), LockKey("panel-b", "shop"))
}

func TestLockTableAcquireRelease(t *testing.T) {
	locks := NewLockTable()
	key := LockKey("panel-a", "shop")

	require.True(t, locks.Acquire(key))
	assert.True(t, locks.Busy(key))
	assert.False(t, locks.Acquire(key), "second acquire on a held key must fail")

	// A different pair is unaffected.
	other := LockKey("panel-a", "blog")
	require.True(t, locks.Acquire(other))
	locks.Release(other)

	locks.Release(key)
	assert.False(t, locks.Busy(key))
	assert.True(t, locks.Acquire(key), "released key can be re-acquired")
	locks.Release(key)
}

func TestLockTableAcquireIsAtomic(t *testing.T) {
	locks := NewLockTable()
	key := LockKey("panel-a", "shop")

	const goroutines = 32
	var wg sync.WaitGroup
	won := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.Acquire(key) {
				won <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(won)

	count := 0
	for range won {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may win the lock")
}
