package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterResolvesOnce(t *testing.T) {
	w := newWaiter[int]()

	assert.True(t, w.resolve(1))
	assert.False(t, w.resolve(2))

	v, err := w.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestWaiterTimeout(t *testing.T) {
	w := newWaiter[string]()

	start := time.Now()
	_, err := w.wait(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaiterContextCancel(t *testing.T) {
	w := newWaiter[bool]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiterConcurrentResolve(t *testing.T) {
	w := newWaiter[int]()

	var wg sync.WaitGroup
	wins := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if w.resolve(i) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestWaiterSet(t *testing.T) {
	var set waiterSet[ackKey, struct{}]
	key := ackKey{fileID: "f", peer: "bob", chunk: 3}

	assert.False(t, set.resolve(key, struct{}{}), "nothing registered yet")

	w := set.add(key)
	assert.True(t, set.has(key))
	assert.True(t, set.resolve(key, struct{}{}))
	assert.False(t, set.has(key), "resolution removes the entry")

	_, err := w.wait(context.Background(), time.Second)
	assert.NoError(t, err)

	// A stale remove must not drop a newer waiter
	old := set.add(key)
	fresh := set.add(key)
	set.remove(key, old)
	assert.True(t, set.has(key))
	set.remove(key, fresh)
	assert.Equal(t, 0, set.len())
}
