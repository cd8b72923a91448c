package braccio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	cmds := []Command{Home(), PowerOn(), PowerOff()}
	for _, c := range cmds {
		q.Enqueue(c)
	}
	require.Equal(t, 3, q.Len())

	for _, want := range cmds {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	a, b, c := Home(), PowerOn(), PowerOff()
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	assert.True(t, q.Remove(b.ID))
	assert.False(t, q.Remove(b.ID))

	got, _ := q.TryDequeue()
	assert.Equal(t, a.ID, got.ID)
	got, _ = q.TryDequeue()
	assert.Equal(t, c.ID, got.ID)
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(Home())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())
}
