package outbox

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropNewestPastCapacity(t *testing.T) {
	o := New(0)
	require.Equal(t, DefaultCapacity, o.Cap())

	for i := 0; i < 250; i++ {
		accepted := o.Enqueue("0|" + strconv.Itoa(i))
		assert.Equal(t, i < DefaultCapacity, accepted, "enqueue %d", i)
		assert.LessOrEqual(t, o.Len(), DefaultCapacity)
	}
	assert.Equal(t, uint64(150), o.Dropped())

	frames := o.DrainAll()
	require.Len(t, frames, DefaultCapacity)
	for i, f := range frames {
		assert.Equal(t, "0|"+strconv.Itoa(i), f)
	}
}

func TestDrainAllEmpties(t *testing.T) {
	o := New(3)
	o.Enqueue("a")
	o.Enqueue("b")

	assert.Equal(t, []string{"a", "b"}, o.DrainAll())
	assert.Equal(t, 0, o.Len())
	assert.Empty(t, o.DrainAll())

	// Capacity is measured since the last drain.
	for _, m := range []string{"c", "d", "e", "f"} {
		o.Enqueue(m)
	}
	assert.Equal(t, []string{"c", "d", "e"}, o.DrainAll())
}

func TestClear(t *testing.T) {
	o := New(5)
	o.Enqueue("a")
	o.Clear()
	assert.Equal(t, 0, o.Len())
	o.Clear()
	assert.Equal(t, 0, o.Len())
}

func TestConcurrentEnqueueAndDrain(t *testing.T) {
	o := New(DefaultCapacity)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var drained []string

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			o.Enqueue(strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			batch := o.DrainAll()
			mu.Lock()
			drained = append(drained, batch...)
			mu.Unlock()
		}
	}()
	wg.Wait()
	drained = append(drained, o.DrainAll()...)

	// Whatever survived must still be in production order.
	prev := -1
	for _, s := range drained {
		n, err := strconv.Atoi(s)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
	assert.Equal(t, uint64(1000), uint64(len(drained))+o.Dropped())
}
