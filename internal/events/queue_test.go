package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainsAfterClose(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(i))
	}
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(99), ErrQueueClosed)

	var got []int
	q.Run(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestQueuePushBlocksInsteadOfDropping(t *testing.T) {
	q := NewQueue[int](1)
	const n = 100

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, q.Push(i))
		}
		q.Close()
	}()

	var got []int
	q.Run(func(v int) { got = append(got, v) })
	wg.Wait()

	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueuePushContextCancelled(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Push(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.PushContext(ctx, 2), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Cap())
}

func TestBusFanOutAndDrop(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe(TopicDeal, 1)
	c, unsubC := b.Subscribe(TopicDeal, 1)
	defer unsubC()

	b.Publish(TopicDeal, "first")
	b.Publish(TopicDeal, "second")

	assert.Equal(t, "first", <-a)
	assert.Equal(t, "first", <-c)
	assert.Equal(t, uint64(2), b.Dropped())

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	b.Publish(TopicSignal, "nobody listens")
	assert.Equal(t, uint64(2), b.Dropped())
}
