package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamportTickMonotonic(t *testing.T) {
	var c Lamport
	require.Equal(t, uint64(1), c.Tick())
	require.Equal(t, uint64(2), c.Tick())
	require.Equal(t, uint64(3), c.Tick())
}

func TestLamportMergeTakesMax(t *testing.T) {
	var c Lamport
	c.Tick() // time=1
	assert.Equal(t, uint64(6), c.Merge(5))
	assert.Equal(t, uint64(7), c.Merge(1))
}

func TestLamportConcurrentTicksAreUnique(t *testing.T) {
	var c Lamport
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seen <- c.Tick()
		}()
	}
	wg.Wait()
	close(seen)

	values := make(map[uint64]bool, n)
	for v := range seen {
		require.False(t, values[v], "duplicate tick value %d", v)
		values[v] = true
	}
	require.Len(t, values, n)
}

func TestLamportSetOnlyRaises(t *testing.T) {
	var c Lamport
	c.Set(10)
	assert.Equal(t, uint64(10), c.Peek())
	c.Set(3)
	assert.Equal(t, uint64(10), c.Peek())
}
