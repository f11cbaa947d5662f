package clock

import (
	"sync"
	"time"
)

// Physical tracks the signed offset applied to the wall clock by Berkeley
// synchronization. Offsets only ever move additively; the wall source
// itself is never adjusted.
type Physical struct {
	mu     sync.RWMutex
	offset time.Duration
}

// Now returns wall time adjusted by the current offset.
func (p *Physical) Now() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Now().Add(p.offset)
}

// Offset returns the current offset, for tests and diagnostics.
func (p *Physical) Offset() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

// SetOffset overwrites the offset outright — used to preload a node's
// clock in tests (spec.md §8 scenario 5).
func (p *Physical) SetOffset(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset = d
}

// Adjust adds delta to the offset, as directed by the leader's
// adjust_clock message.
func (p *Physical) Adjust(delta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset += delta
}

// Sample is one peer's contribution to a Berkeley averaging round: the
// peer's self-reported adjusted time, corrected for the measured
// round-trip latency.
type Sample struct {
	NodeID int
	Time   time.Time
}

// BerkeleyPlan computes, from the leader's own adjusted time and the
// RTT-corrected samples gathered from live peers, the per-node deltas a
// Berkeley synchronization round should apply. The leader's own delta is
// returned under the leaderID key.
func BerkeleyPlan(leaderID int, leaderTime time.Time, peerSamples []Sample) map[int]time.Duration {
	epoch := time.Unix(0, 0)
	count := 1
	sum := leaderTime.Sub(epoch)
	for _, s := range peerSamples {
		sum += s.Time.Sub(epoch)
		count++
	}
	avg := epoch.Add(sum / time.Duration(count))

	deltas := make(map[int]time.Duration, count)
	deltas[leaderID] = avg.Sub(leaderTime)
	for _, s := range peerSamples {
		deltas[s.NodeID] = avg.Sub(s.Time)
	}
	return deltas
}
