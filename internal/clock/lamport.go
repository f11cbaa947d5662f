// Package clock implements the two clock disciplines the fleet runs on:
// a Lamport logical clock for happens-before ordering, and a Berkeley
// physical-clock offset maintained by whichever node currently holds
// leadership.
package clock

import "sync"

// Lamport is a mutex-guarded Lamport logical clock. Tick and Merge are
// the only ways to advance it, so concurrent handlers can never violate
// monotonicity.
type Lamport struct {
	mu   sync.Mutex
	time uint64
}

// Tick advances the clock for a local event and returns the new value.
func (c *Lamport) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Merge folds in a timestamp observed on an incoming message: L ← max(L,
// received) + 1.
func (c *Lamport) Merge(received uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.time {
		c.time = received
	}
	c.time++
	return c.time
}

// Peek returns the current value without advancing it.
func (c *Lamport) Peek() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// Set restores the clock to a value read from a checkpoint. Only safe at
// startup before any other goroutine observes the clock.
func (c *Lamport) Set(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.time {
		c.time = v
	}
}
